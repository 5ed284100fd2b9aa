package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"

	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/ipc"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
)

// Backend runs commands for the REPL, either in-process or over IPC.
type Backend interface {
	// Exec runs cmd and stores its value in out, which may be nil.
	Exec(ctx context.Context, cmd controller.Command, out any) error
	// Notifications streams bus notifications until ctx is done.
	Notifications(ctx context.Context) (<-chan notify.Notification, error)
}

// Local drives a controller running in the same process.
type Local struct {
	C *controller.Controller
}

func (l Local) Exec(ctx context.Context, cmd controller.Command, out any) error {
	res, err := l.C.Do(ctx, cmd)
	if err != nil {
		return err
	}
	return assign(out, res.Value)
}

func (l Local) Notifications(ctx context.Context) (<-chan notify.Notification, error) {
	sub := l.C.Bus().Subscribe(notify.DefaultBuffer)
	go func() {
		<-ctx.Done()
		sub.Cancel()
	}()
	return sub.C(), nil
}

// assign stores value in *out, going through JSON when the types differ.
func assign(out, value any) error {
	if out == nil || value == nil {
		return nil
	}
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Type().AssignableTo(dst.Elem().Type()) {
		v = v.Elem()
	}
	if v.Type().AssignableTo(dst.Elem().Type()) {
		dst.Elem().Set(v)
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Remote talks to a daemon over IPC.
type Remote struct {
	C *ipc.Client
}

func (r Remote) Exec(ctx context.Context, cmd controller.Command, out any) error {
	return r.C.Do(ctx, cmd, out)
}

func (r Remote) Notifications(ctx context.Context) (<-chan notify.Notification, error) {
	w, err := r.C.Watch(ctx, 0)
	if err != nil {
		return nil, err
	}
	ch := make(chan notify.Notification, notify.DefaultBuffer)
	go func() {
		defer close(ch)
		for {
			n, err := w.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					ch <- notify.Notification{Kind: notify.OperationFailed, Failure: "io", Message: err.Error()}
				}
				return
			}
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
