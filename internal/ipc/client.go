package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
)

var (
	ErrUnavailable  = errors.New("daemon unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

type Client struct {
	conn        *grpc.ClientConn
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(ctx context.Context, method string, req, reply any,
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(withAccessToken(ctx, c.accessToken), method, req, reply, cc, opts...)
}

func (c *Client) streamAccessTokenInterceptor(ctx context.Context, desc *grpc.StreamDesc,
	cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.accessToken), desc, cc, method, opts...)
}

// Dial connects to the daemon listening on a unix socket.
func Dial(socket, token string) (*Client, error) {
	return NewClient("unix://"+socket, token)
}

// NewClient connects to target. Extra options are appended to the defaults.
func NewClient(target, token string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{accessToken: token}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithStreamInterceptor(c.streamAccessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute sends cmd and returns the raw response.
func (c *Client) Execute(ctx context.Context, cmd controller.Command) (*ExecuteResponse, error) {
	args, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Name(), err)
	}

	resp := new(ExecuteResponse)
	if err := c.conn.Invoke(ctx, executeMethod, &ExecuteRequest{Command: cmd.Name(), Args: args}, resp); err != nil {
		return nil, c.mapError(err)
	}
	return resp, nil
}

// Do sends cmd and decodes its value into out, which may be nil. A failed
// command comes back as a *controller.KindError.
func (c *Client) Do(ctx context.Context, cmd controller.Command, out any) error {
	resp, err := c.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if resp.ErrorKind != "" {
		return &controller.KindError{Kind: controller.FailureKind(resp.ErrorKind), Message: resp.Error}
	}
	if out != nil && len(resp.Value) > 0 {
		if err := json.Unmarshal(resp.Value, out); err != nil {
			return fmt.Errorf("decode %s result: %w", cmd.Name(), err)
		}
	}
	return nil
}

// Watcher is an open notification stream.
type Watcher struct {
	stream grpc.ClientStream
}

func (c *Client) Watch(ctx context.Context, buffer int) (*Watcher, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		return nil, c.mapError(err)
	}
	if err := stream.SendMsg(&WatchRequest{Buffer: buffer}); err != nil {
		return nil, c.mapError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, c.mapError(err)
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks for the next notification. It returns io.EOF once the daemon
// ends the stream.
func (w *Watcher) Recv() (notify.Notification, error) {
	var n notify.Notification
	if err := w.stream.RecvMsg(&n); err != nil {
		return notify.Notification{}, err
	}
	return n, nil
}

func (c *Client) mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Unauthenticated:
		if st.Message() == common.ErrTokenExpired.Error() {
			return fmt.Errorf("%w: %w", ErrUnauthorized, common.ErrTokenExpired)
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	default:
		return err
	}
}
