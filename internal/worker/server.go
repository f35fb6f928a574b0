package worker

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxMsgSize bounds requests and responses. Configs are small; result
// records with many fields stay well under it.
const maxMsgSize = 4 * 1024 * 1024

// Resolver builds the evaluator for a model name.
type Resolver func(name string) (sweep.Evaluator, error)

type evaluatorServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*evaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(evaluatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(evaluatorServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Ensure Server implements the service.
var _ evaluatorServer = (*Server)(nil)

// Server answers evaluation requests from remote engines.
type Server struct {
	resolve Resolver
	log     *logrus.Entry

	mu     sync.Mutex
	models map[string]sweep.Evaluator

	server *grpc.Server
}

// NewServer creates a server that builds evaluators with resolve. Resolved
// evaluators are cached by name.
func NewServer(resolve Resolver) *Server {
	s := &Server{
		resolve: resolve,
		log:     monitoring.WithComponent("worker"),
		models:  make(map[string]sweep.Evaluator),
	}
	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.Register(s.server)
	return s
}

// Register attaches the evaluation service to an existing gRPC server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infof("listening on %s", lis.Addr())
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("worker serve: %w", err)
	}
	return nil
}

// Stop waits for in-flight evaluations and stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
	s.log.Info("stopped")
}

func (s *Server) evaluator(name string) (sweep.Evaluator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.models[name]; ok {
		return e, nil
	}
	e, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	s.models[name] = e
	return e, nil
}

// Evaluate implements the unary RPC.
func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	eval, err := s.evaluator(req.model)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "model %q: %v", req.model, err)
	}
	c := config.NewConcrete(req.node)
	r, err := eval.Evaluate(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		s.log.WithField("hash", c.Hash()).Debugf("evaluation failed: %v", err)
		return nil, status.Errorf(codes.Internal, "evaluate: %v", err)
	}
	return newResponse(r), nil
}
