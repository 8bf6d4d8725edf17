package modem_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/cellbridge/smsgw/modem"
)

func TestModemNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(context.Background(), config)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if m == nil {
			t.Error("New() should return valid modem on success")
		}

		// Clean up
		mockTransport.EXPECT().Close().Return(nil)
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Inbound enabled adds CNMI to init", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		calls := NewMockSequence(mockTransport).
			AT().
			EchoOff().
			VerboseErrors().
			SimReady().
			SMSTextMode().
			TextParams().
			NotifyNewMsg().
			Build()

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			calls,
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithInbound(true).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m.Close()
	})

	t.Run("ErrSIMPinRequired when SIM PIN is required but not provided", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		calls := NewMockSequence(mockTransport).
			AT().
			EchoOff().
			VerboseErrors().
			SimPinRequired().
			Build()

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				calls,
				[]any{
					mockTransport.EXPECT().Close(),
				},
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrSIMPinRequired) {
			t.Errorf("expected ErrSIMPinRequired, got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when error occurs")
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		ctx := context.Background()
		m, err := modem.New(ctx, config)

		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from New(), got: %v", err)
		}
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Closes underlying transport successfully", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		closeError := errors.New("transport close failed")
		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(closeError),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != closeError {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}
		if m == nil {
			t.Error("New() should return valid modem on success")
		}

		// First close should succeed
		err = m.Close()
		if err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}

		// Second close should return ErrAlreadyClosed
		err = m.Close()
		if err != modem.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}
	})

	t.Run("Concurrent close releases the transport once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}

		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() { errs <- m.Close() }()
		}

		var closedOK, alreadyClosed int
		for i := 0; i < 2; i++ {
			switch err := <-errs; err {
			case nil:
				closedOK++
			case modem.ErrAlreadyClosed:
				alreadyClosed++
			default:
				t.Errorf("unexpected close error: %v", err)
			}
		}
		if closedOK != 1 || alreadyClosed != 1 {
			t.Errorf("closes: ok=%d alreadyClosed=%d, want exactly one of each", closedOK, alreadyClosed)
		}
	})
}

func TestModemLoop(t *testing.T) {
	t.Run("Starts and stops on EOF", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		defer m.Close()

		allowEOF := make(chan struct{})

		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			<-allowEOF
			return 0, io.EOF
		})
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		close(allowEOF)
		err = <-loopDone

		if err != nil && !errors.Is(err, io.EOF) {
			t.Errorf("expected Loop to handle EOF gracefully, got: %v", err)
		}
	})

	t.Run("Dispatch URCs to subscribers", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx := context.Background()
		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		defer m.Close()

		notes, unsubscribe := m.Subscribe()
		defer unsubscribe()

		allowEOF := make(chan struct{})

		gomock.InOrder(
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "+CMTI: \"SM\",1\r\n"), nil // New SMS URC
			}),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				<-allowEOF
				return 0, io.EOF
			}),
		)
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		select {
		case urc := <-notes:
			if !strings.Contains(urc, "+CMTI:") {
				t.Errorf("expected URC to contain +CMTI:, got: %q", urc)
			}
		case <-time.After(time.Second):
			t.Error("expected URC to be received within timeout")
		}

		close(allowEOF)
		err = <-loopDone

		if err != nil && !errors.Is(err, io.EOF) {
			t.Errorf("expected Loop to handle EOF gracefully, got: %v", err)
		}
	})

	t.Run("Orphaned finals reach subscribers", func(t *testing.T) {
		// A NO CARRIER arriving with no command in flight is a call-state
		// notification and must not be dropped.
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx := context.Background()
		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		defer m.Close()

		notes, unsubscribe := m.Subscribe()
		defer unsubscribe()

		allowEOF := make(chan struct{})
		gomock.InOrder(
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "NO CARRIER\r\n"), nil
			}),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				<-allowEOF
				return 0, io.EOF
			}),
		)
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		select {
		case line := <-notes:
			if line != "NO CARRIER" {
				t.Errorf("expected NO CARRIER, got: %q", line)
			}
		case <-time.After(time.Second):
			t.Error("expected orphaned final within timeout")
		}

		close(allowEOF)
		<-loopDone
	})

	t.Run("Exits gracefully on context cancellation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		defer m.Close()

		readStarted := make(chan struct{})

		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			close(readStarted)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		<-readStarted
		cancel()

		err = <-loopDone
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected Loop to return context.Canceled, got: %v", err)
		}
	})

	t.Run("Handle scanner errors from Transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx := context.Background()
		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		defer m.Close()

		scannerError := errors.New("transport read error")

		mockTransport.EXPECT().Read(gomock.Any()).Return(0, scannerError)
		mockTransport.EXPECT().Close().Return(nil)

		err = m.Loop(ctx)
		if err == nil {
			t.Error("expected Loop to return scanner error")
		}
		if !strings.Contains(err.Error(), "scanner error") {
			t.Errorf("expected scanner error to be wrapped, got: %v", err)
		}
	})

	t.Run("ErrLoopRunning on consecutive calls", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		defer m.Close()

		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}).AnyTimes()
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		// Give first Loop time to start and set loopRunning flag
		time.Sleep(10 * time.Millisecond)

		err = m.Loop(ctx)
		if !errors.Is(err, modem.ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning, got: %v", err)
		}

		cancel()
		<-loopDone
	})
}
