package worker

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/models"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func init() {
	monitoring.SetLogger(nil)
}

func modelResolver(name string) (sweep.Evaluator, error) {
	return models.Lookup(name)
}

// startWorker serves s on an in-memory listener and returns a dial option
// reaching it.
func startWorker(t *testing.T, s *Server) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func dial(t *testing.T, model string, s *Server) *Client {
	t.Helper()
	c, err := Dial(model, []string{"passthrough:///bufnet"}, startWorker(t, s))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func firstConcrete(t *testing.T, n *config.Node) *config.Concrete {
	t.Helper()
	seq, err := n.Enumerate()
	require.NoError(t, err)
	return seq.At(0)
}

func TestWire_ForceAtomicAndChildren(t *testing.T) {
	t.Parallel()

	opt := config.New("optimizer")
	opt.MustInsert("lr", 0.01)
	root := config.New("study")
	root.MustInsert("shape", []int{3, 4}, config.WithForceAtomic(true)).
		MustInsert("label", "a").
		MustInsert("on", true).
		MustInsert("optimizer", opt)
	c := firstConcrete(t, root)

	req, err := newRequest("echo", c)
	require.NoError(t, err)
	got, err := parseRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "echo", got.model)
	assert.Equal(t, "study", got.node.Name())
	p, err := got.node.Param("shape")
	require.NoError(t, err)
	assert.True(t, p.Options().ForceAtomic)
	assert.Equal(t, 2, p.Len())

	// The kept-whole list must not come back as an axis.
	axes, err := got.node.Axes()
	require.NoError(t, err)
	assert.Empty(t, axes)

	lr, err := got.node.Float("optimizer.lr")
	require.NoError(t, err)
	assert.Equal(t, 0.01, lr)
	label, err := got.node.String("label")
	require.NoError(t, err)
	assert.Equal(t, "a", label)
}

func TestWire_NodeSequence(t *testing.T) {
	t.Parallel()

	a := config.New("a")
	a.MustInsert("k", 1)
	b := config.New("b")
	b.MustInsert("k", 2)
	root := config.New("study")
	root.MustInsert("layers", []*config.Node{a, b}, config.WithForceAtomic(true))
	c := firstConcrete(t, root)

	req, err := newRequest("echo", c)
	require.NoError(t, err)
	got, err := parseRequest(req)
	require.NoError(t, err)

	k, err := got.node.Int("layers.b.k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), k)
}

func TestWire_BadMessages(t *testing.T) {
	t.Parallel()

	_, err := parseRequest(newResponse(grid.Result{"x": 1}))
	assert.Error(t, err)

	_, err = parseResponse(newResponse(nil))
	require.NoError(t, err)

	req, err := newRequest("echo", config.NewConcrete(config.New("s")))
	require.NoError(t, err)
	_, err = parseResponse(req)
	assert.Error(t, err)
}

func TestClient_MatchesLocal(t *testing.T) {
	t.Parallel()

	c := dial(t, "erdos_renyi,echo", NewServer(modelResolver))

	root := config.New("graphs")
	root.MustInsert("n", 12).MustInsert("p", 0.3).MustInsert("seed", 9)
	cc := firstConcrete(t, root)

	remote, err := c.Evaluate(context.Background(), cc)
	require.NoError(t, err)

	local, err := models.Lookup("erdos_renyi,echo")
	require.NoError(t, err)
	want, err := local.Evaluate(context.Background(), cc)
	require.NoError(t, err)
	assert.Equal(t, want, remote)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	s := NewServer(modelResolver)
	opt := startWorker(t, s)

	unknown, err := Dial("lorenz", []string{"passthrough:///bufnet"}, opt)
	require.NoError(t, err)
	defer unknown.Close()
	_, err = unknown.Evaluate(context.Background(), config.NewConcrete(config.New("s")))
	assert.ErrorContains(t, err, "InvalidArgument")
	assert.ErrorContains(t, err, "lorenz")

	normal, err := Dial("normal", []string{"passthrough:///bufnet"}, opt)
	require.NoError(t, err)
	defer normal.Close()
	bad := config.New("s")
	bad.MustInsert("sigma", -1.0)
	_, err = normal.Evaluate(context.Background(), config.NewConcrete(bad))
	assert.ErrorContains(t, err, "Internal")
	assert.ErrorContains(t, err, "sigma")

	_, err = Dial("", []string{"x"})
	assert.Error(t, err)
	_, err = Dial("echo", nil)
	assert.Error(t, err)
}

func TestClient_RoundRobinUnderEngine(t *testing.T) {
	t.Parallel()

	var calls [2]atomic.Int32
	counting := func(i int) Resolver {
		return func(name string) (sweep.Evaluator, error) {
			m, err := models.Lookup(name)
			if err != nil {
				return nil, err
			}
			return sweep.EvaluatorFunc(func(ctx context.Context, c *config.Concrete) (grid.Result, error) {
				calls[i].Add(1)
				return m.Evaluate(ctx, c)
			}), nil
		}
	}

	opts := []grpc.DialOption{
		startWorker(t, NewServer(counting(0))),
	}
	first, err := Dial("echo", []string{"passthrough:///bufnet"}, opts...)
	require.NoError(t, err)
	second, err := Dial("echo", []string{"passthrough:///bufnet"}, startWorker(t, NewServer(counting(1))))
	require.NoError(t, err)

	// Stitch the two single-worker clients into one two-worker client.
	c := &Client{model: "echo", conns: append(first.conns, second.conns...)}
	defer c.Close()

	root := config.New("study")
	root.MustInsert("x", []int{1, 2, 3, 4}).MustInsert("y", []float64{0.5, 1.5})
	e, err := sweep.New(root, c, sweep.WithWorkers(2), sweep.WithCheckpointDir(""))
	require.NoError(t, err)
	require.NoError(t, e.Compute(context.Background(), false))

	arr, ok := e.Result("study")
	require.True(t, ok)
	assert.Equal(t, 0, arr.Missing())
	assert.Equal(t, []float64{1, 1, 2, 2, 3, 3, 4, 4}, arr.Fields["x"])
	assert.Equal(t, int32(4), calls[0].Load())
	assert.Equal(t, int32(4), calls[1].Load())
}

func TestServer_ResolverCached(t *testing.T) {
	t.Parallel()

	var resolved atomic.Int32
	s := NewServer(func(name string) (sweep.Evaluator, error) {
		resolved.Add(1)
		if name != "echo" {
			return nil, errors.New("unknown")
		}
		return models.Lookup(name)
	})
	c := dial(t, "echo", s)

	root := config.New("s")
	root.MustInsert("x", 1)
	for i := 0; i < 3; i++ {
		_, err := c.Evaluate(context.Background(), firstConcrete(t, root))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), resolved.Load())
}
