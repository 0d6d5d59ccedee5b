package groupcomm

import (
	"context"
	"testing"
	"time"

	"github.com/tryfix/groupcomm/encoding"
	"github.com/tryfix/groupcomm/nameservice"
	"github.com/tryfix/groupcomm/transport"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

const testGroup = `cg1`
const testOperator = `op`

func sumReducer(values []interface{}) (interface{}, error) {
	sum := 0
	for _, v := range values {
		sum += v.(int)
	}

	return sum, nil
}

type testCluster struct {
	transport *transport.Loopback
	names     *nameservice.LocalRegistry
	clients   []*GroupCommClient
}

func newTestCluster() *testCluster {
	return &testCluster{
		transport: transport.NewLoopback(transport.NewLoopbackConfig()),
		names:     nameservice.NewLocalRegistry(log.NewNoopLogger()),
	}
}

type taskSpec struct {
	id       string
	parentId string
	childIds []string
}

// join builds a one-group, one-operator client for a task. Initialize
// is left to the caller so clusters can be fully registered first.
func (tc *testCluster) join(t *testing.T, spec taskSpec, typ OperatorType, enc encoding.Encoder, reducer ReduceFunc, timeout time.Duration) *GroupCommClient {
	t.Helper()

	conf := NewConfig()
	conf.SelfId = spec.id
	conf.NameService = tc.names
	conf.Transport = tc.transport
	conf.Timeout = timeout
	conf.RetryCount = 3
	conf.RetryBackoff = 5 * time.Millisecond
	conf.Groups = []*GroupConfig{{
		Name: testGroup,
		Operators: []*OperatorConfig{{
			Name:     testOperator,
			Type:     typ,
			ParentId: spec.parentId,
			ChildIds: spec.childIds,
			Encoder:  enc,
			Reducer:  reducer,
		}},
	}}

	client, err := NewGroupCommClient(conf)
	if err != nil {
		t.Fatal(err)
	}

	tc.clients = append(tc.clients, client)

	return client
}

func (tc *testCluster) initialize(t *testing.T) {
	t.Helper()

	for _, client := range tc.clients {
		if err := client.Initialize(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func (tc *testCluster) close() {
	for _, client := range tc.clients {
		_ = client.Close()
	}
}

func (tc *testCluster) operator(t *testing.T, client *GroupCommClient) *OperatorTopology {
	t.Helper()

	group, err := client.Group(testGroup)
	if err != nil {
		t.Fatal(err)
	}

	topology, err := group.Operator(testOperator)
	if err != nil {
		t.Fatal(err)
	}

	return topology
}

// directTopology builds an operator topology without a transport round
// trip; inbound messages are fed straight into OnMessage.
func directTopology(spec taskSpec, enc encoding.Encoder, timeout time.Duration) *OperatorTopology {
	conf := NewConfig()
	conf.SelfId = spec.id
	conf.Timeout = timeout
	conf.RetryCount = 2
	conf.RetryBackoff = time.Millisecond
	conf.MetricsReporter = metrics.NoopReporter()

	names := nameservice.NewLocalRegistry(log.NewNoopLogger())
	_ = names.Register(spec.id, nameservice.Endpoint{Host: `localhost`, Port: 0})
	if spec.parentId != `` {
		_ = names.Register(spec.parentId, nameservice.Endpoint{Host: `localhost`, Port: 0})
	}
	for _, childId := range spec.childIds {
		_ = names.Register(childId, nameservice.Endpoint{Host: `localhost`, Port: 0})
	}
	conf.NameService = names
	conf.Transport = transport.NewLoopback(transport.NewLoopbackConfig())

	return newOperatorTopology(testGroup, &OperatorConfig{
		Name:     testOperator,
		ParentId: spec.parentId,
		ChildIds: spec.childIds,
		Encoder:  enc,
	}, conf)
}
