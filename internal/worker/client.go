package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ sweep.Evaluator = (*Client)(nil)

// Client is an evaluator that forwards each config to one of a set of
// workers, chosen round-robin.
type Client struct {
	model string
	conns []*grpc.ClientConn
	next  atomic.Uint64
}

// Dial connects to every address. Connections are established lazily, so
// an unreachable worker surfaces as an evaluation error.
func Dial(model string, addrs []string, opts ...grpc.DialOption) (*Client, error) {
	if model == "" {
		return nil, errors.New("no model named")
	}
	if len(addrs) == 0 {
		return nil, errors.New("no worker addresses")
	}
	dopts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}, opts...)

	c := &Client{model: model}
	for _, addr := range addrs {
		conn, err := grpc.NewClient(addr, dopts...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to dial worker %s: %w", addr, err)
		}
		c.conns = append(c.conns, conn)
	}
	return c, nil
}

// Evaluate sends c to the next worker.
func (c *Client) Evaluate(ctx context.Context, cc *config.Concrete) (grid.Result, error) {
	req, err := newRequest(c.model, cc)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	conn := c.conns[(c.next.Add(1)-1)%uint64(len(c.conns))]
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, evaluateMethod, req, resp); err != nil {
		return nil, fmt.Errorf("worker %s: %w", conn.Target(), err)
	}
	return parseResponse(resp)
}

// Close closes every connection.
func (c *Client) Close() error {
	var errs error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
