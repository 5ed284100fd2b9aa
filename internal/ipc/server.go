// Package ipc exposes the controller to local clients over gRPC on a unix
// socket. Calls carry a JWT issued by the daemon at startup and stored in a
// token file readable only by its owner.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
)

// Executor is the controller surface served over IPC.
type Executor interface {
	Do(ctx context.Context, cmd controller.Command) (controller.Result, error)
	Bus() *notify.Bus
}

type Server struct {
	socket string
	exec   Executor
	logger logging.Logger
	secret []byte
}

func NewServer(socket string, exec Executor, l logging.Logger, secretKey []byte) *Server {
	return &Server{
		socket: socket,
		exec:   exec,
		logger: l.With("module", "ipc_server"),
		secret: secretKey,
	}
}

func (s *Server) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)
	srv.RegisterService(&serviceDesc, s)
	return srv
}

// Run listens on the unix socket until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if _, err := filex.EnsureDir(filepath.Dir(s.socket)); err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	// a socket left behind by a crashed daemon blocks Listen
	if err := os.Remove(s.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove stale socket: %w", common.ErrIO, err)
	}

	listen, err := net.Listen("unix", s.socket)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socket, 0o600); err != nil {
		_ = listen.Close()
		return fmt.Errorf("%w: chmod socket: %w", common.ErrIO, err)
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newGRPCServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping IPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting IPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	resp := &ExecuteResponse{Command: req.Command}

	cmd, err := decodeCommand(req)
	if err != nil {
		return failed(resp, err), nil
	}

	res, err := s.exec.Do(ctx, cmd)
	resp.CommandID = res.CommandID
	if err != nil {
		s.logger.Debug(ctx, "command failed", "command", req.Command, "client", ClientFromContext(ctx), "error", err)
		return failed(resp, err), nil
	}

	if res.Value != nil {
		v, err := json.Marshal(res.Value)
		if err != nil {
			return failed(resp, fmt.Errorf("encode result: %w", err)), nil
		}
		resp.Value = v
	}
	return resp, nil
}

func decodeCommand(req *ExecuteRequest) (controller.Command, error) {
	cmd, err := controller.NewCommand(req.Command)
	if err != nil {
		return nil, err
	}
	if len(req.Args) == 0 {
		return cmd, nil
	}

	dec := json.NewDecoder(bytes.NewReader(req.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrInvalidCommand, req.Command, err)
	}
	return cmd, nil
}

func failed(resp *ExecuteResponse, err error) *ExecuteResponse {
	resp.ErrorKind = string(controller.ClassifyError(err))
	resp.Error = err.Error()
	return resp
}

// Watch streams bus notifications until the client goes away or the bus is
// closed on shutdown.
func (s *Server) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	sub := s.exec.Bus().Subscribe(req.Buffer)
	defer sub.Cancel()

	ctx := stream.Context()
	s.logger.Debug(ctx, "watcher attached", "client", ClientFromContext(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&n); err != nil {
				return err
			}
		}
	}
}
