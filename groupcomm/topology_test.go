package groupcomm

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tryfix/groupcomm/data"
	"github.com/tryfix/groupcomm/encoding"
)

func TestOperatorTopology_Broadcast(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`l1`, `l2`, `l3`}}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second)
	leaves := []*GroupCommClient{
		tc.join(t, taskSpec{id: `l1`, parentId: `root`}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second),
		tc.join(t, taskSpec{id: `l2`, parentId: `root`}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second),
		tc.join(t, taskSpec{id: `l3`, parentId: `root`}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second),
	}
	tc.initialize(t)

	ctx := context.Background()
	if err := tc.operator(t, root).SendToChildren(ctx, 42, data.Data); err != nil {
		t.Fatal(err)
	}

	for _, leaf := range leaves {
		got, err := tc.operator(t, leaf).ReceiveFromParent(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if got != 42 {
			t.Errorf(`expected 42 have %v`, got)
		}
	}

	// exactly one message per leaf, nothing else on any mailbox
	for _, client := range tc.clients {
		for peer, depth := range tc.operator(t, client).mailboxDepths() {
			if depth != 0 {
				t.Errorf(`expected empty mailbox for [%s] have %d`, peer, depth)
			}
		}
	}
}

func TestOperatorTopology_SendToChildren_GrowsEachMailboxByOne(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`l1`, `l2`}}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second)
	leaves := []*GroupCommClient{
		tc.join(t, taskSpec{id: `l1`, parentId: `root`}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second),
		tc.join(t, taskSpec{id: `l2`, parentId: `root`}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second),
	}
	tc.initialize(t)

	if err := tc.operator(t, root).SendToChildren(context.Background(), 7, data.Data); err != nil {
		t.Fatal(err)
	}

	for _, leaf := range leaves {
		depths := tc.operator(t, leaf).mailboxDepths()
		if depths[`root`] != 1 {
			t.Errorf(`expected mailbox depth 1 have %d`, depths[`root`])
		}
	}
}

func TestOperatorTopology_ReduceSum(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`l1`, `l2`, `l3`}}, TypeReduce, encoding.IntEncoder{}, sumReducer, 5*time.Second)
	values := map[string]int{`l1`: 10, `l2`: 20, `l3`: 30}
	leaves := []*GroupCommClient{
		tc.join(t, taskSpec{id: `l1`, parentId: `root`}, TypeReduce, encoding.IntEncoder{}, sumReducer, 5*time.Second),
		tc.join(t, taskSpec{id: `l2`, parentId: `root`}, TypeReduce, encoding.IntEncoder{}, sumReducer, 5*time.Second),
		tc.join(t, taskSpec{id: `l3`, parentId: `root`}, TypeReduce, encoding.IntEncoder{}, sumReducer, 5*time.Second),
	}
	tc.initialize(t)

	ctx := context.Background()
	wg := sync.WaitGroup{}
	for _, leaf := range leaves {
		wg.Add(1)
		go func(leaf *GroupCommClient) {
			defer wg.Done()
			if err := tc.operator(t, leaf).SendToParent(ctx, values[leaf.SelfId()], data.Data); err != nil {
				t.Error(err)
			}
		}(leaf)
	}

	got, err := tc.operator(t, root).ReceiveFromChildren(ctx, sumReducer)
	if err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if got != 60 {
		t.Errorf(`expected 60 have %v`, got)
	}
}

func TestOperatorTopology_ScatterDefaultChunk(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`c1`, `c2`}}, TypeScatter, encoding.StringEncoder{}, nil, time.Second)
	c1 := tc.join(t, taskSpec{id: `c1`, parentId: `root`}, TypeScatter, encoding.StringEncoder{}, nil, time.Second)
	c2 := tc.join(t, taskSpec{id: `c2`, parentId: `root`}, TypeScatter, encoding.StringEncoder{}, nil, time.Second)
	tc.initialize(t)

	ctx := context.Background()
	input := []interface{}{`a`, `b`, `c`, `d`, `e`}
	if err := tc.operator(t, root).ScatterToChildren(ctx, input, data.Data); err != nil {
		t.Fatal(err)
	}

	got1, err := tc.operator(t, c1).ReceiveListFromParent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := tc.operator(t, c2).ReceiveListFromParent(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got1, []interface{}{`a`, `b`, `c`}) {
		t.Errorf(`expected [a b c] have %v`, got1)
	}
	if !reflect.DeepEqual(got2, []interface{}{`d`, `e`}) {
		t.Errorf(`expected [d e] have %v`, got2)
	}
}

func TestOperatorTopology_ScatterExplicitOrder(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`c1`, `c2`}}, TypeScatter, encoding.IntEncoder{}, nil, time.Second)
	c1 := tc.join(t, taskSpec{id: `c1`, parentId: `root`}, TypeScatter, encoding.IntEncoder{}, nil, time.Second)
	c2 := tc.join(t, taskSpec{id: `c2`, parentId: `root`}, TypeScatter, encoding.IntEncoder{}, nil, time.Second)
	tc.initialize(t)

	ctx := context.Background()
	input := []interface{}{1, 2, 3, 4}
	if err := tc.operator(t, root).ScatterToChildrenInOrder(ctx, input, []string{`c2`, `c1`}, data.Data); err != nil {
		t.Fatal(err)
	}

	got2, err := tc.operator(t, c2).ReceiveListFromParent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got1, err := tc.operator(t, c1).ReceiveListFromParent(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got2, []interface{}{1, 2}) {
		t.Errorf(`expected [1 2] have %v`, got2)
	}
	if !reflect.DeepEqual(got1, []interface{}{3, 4}) {
		t.Errorf(`expected [3 4] have %v`, got1)
	}
}

func TestOperatorTopology_ScatterEdgeCases(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`c1`, `c2`, `c3`}}, TypeScatter, encoding.IntEncoder{}, nil, time.Second)
	children := []*GroupCommClient{
		tc.join(t, taskSpec{id: `c1`, parentId: `root`}, TypeScatter, encoding.IntEncoder{}, nil, time.Second),
		tc.join(t, taskSpec{id: `c2`, parentId: `root`}, TypeScatter, encoding.IntEncoder{}, nil, time.Second),
		tc.join(t, taskSpec{id: `c3`, parentId: `root`}, TypeScatter, encoding.IntEncoder{}, nil, time.Second),
	}
	tc.initialize(t)

	ctx := context.Background()

	t.Run(`FewerValuesThanChildren`, func(t *testing.T) {
		if err := tc.operator(t, root).ScatterToChildren(ctx, []interface{}{1, 2}, data.Data); err != nil {
			t.Fatal(err)
		}

		for i, child := range children[:2] {
			got, err := tc.operator(t, child).ReceiveListFromParent(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, []interface{}{i + 1}) {
				t.Errorf(`expected [%d] have %v`, i+1, got)
			}
		}

		if tc.operator(t, children[2]).mailboxDepths()[`root`] != 0 {
			t.Error(`expected nothing for the last child`)
		}
	})

	t.Run(`ChunkLargerThanInput`, func(t *testing.T) {
		if err := tc.operator(t, root).ScatterToChildrenWithSize(ctx, []interface{}{1, 2, 3, 4}, 10, data.Data); err != nil {
			t.Fatal(err)
		}

		got, err := tc.operator(t, children[0]).ReceiveListFromParent(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, []interface{}{1, 2, 3, 4}) {
			t.Errorf(`expected [1 2 3 4] have %v`, got)
		}

		for _, child := range children[1:] {
			if tc.operator(t, child).mailboxDepths()[`root`] != 0 {
				t.Errorf(`expected nothing for child [%s]`, child.SelfId())
			}
		}
	})

	t.Run(`InvalidChunkSize`, func(t *testing.T) {
		err := tc.operator(t, root).ScatterToChildrenWithSize(ctx, []interface{}{1}, 0, data.Data)
		if _, ok := err.(ArgumentError); !ok {
			t.Errorf(`expected ArgumentError have %v`, err)
		}
	})

	t.Run(`OrderLengthMismatch`, func(t *testing.T) {
		err := tc.operator(t, root).ScatterToChildrenInOrder(ctx, []interface{}{1}, []string{`c1`}, data.Data)
		if _, ok := err.(ArgumentError); !ok {
			t.Errorf(`expected ArgumentError have %v`, err)
		}
	})

	t.Run(`OrderWithUnknownPeer`, func(t *testing.T) {
		err := tc.operator(t, root).ScatterToChildrenInOrder(ctx, []interface{}{1}, []string{`c1`, `c2`, `nope`}, data.Data)
		if _, ok := err.(UnknownPeerError); !ok {
			t.Errorf(`expected UnknownPeerError have %v`, err)
		}
	})
}

func TestOperatorTopology_PerSourceFIFO(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`leaf`}}, TypeReduce, encoding.IntEncoder{}, sumReducer, 5*time.Second)
	leaf := tc.join(t, taskSpec{id: `leaf`, parentId: `root`}, TypeReduce, encoding.IntEncoder{}, sumReducer, 5*time.Second)
	tc.initialize(t)

	ctx := context.Background()
	const n = 50

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			if err := tc.operator(t, leaf).SendToParent(ctx, i, data.Data); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	// ReceiveFromParent is not applicable on the root; drain the
	// leaf's mailbox through the reducer one message at a time.
	for i := 0; i < n; i++ {
		got, err := tc.operator(t, root).ReceiveFromChildren(ctx, func(values []interface{}) (interface{}, error) {
			return values[0], nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != i {
			t.Fatalf(`expected %d have %v`, i, got)
		}
	}
	<-done
}

func TestOperatorTopology_RoundTripThroughCodec(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	parent := tc.join(t, taskSpec{id: `p`, childIds: []string{`c`}}, TypeBroadcast, encoding.StringEncoder{}, nil, time.Second)
	child := tc.join(t, taskSpec{id: `c`, parentId: `p`}, TypeBroadcast, encoding.StringEncoder{}, nil, time.Second)
	tc.initialize(t)

	ctx := context.Background()
	if err := tc.operator(t, parent).SendToChildren(ctx, `payload-42`, data.Data); err != nil {
		t.Fatal(err)
	}

	got, err := tc.operator(t, child).ReceiveFromParent(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if got != `payload-42` {
		t.Errorf(`expected payload-42 have %v`, got)
	}
}

func TestOperatorTopology_ReceiveTimeoutNamesSilentChildren(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`c1`, `c2`}}, TypeReduce, encoding.IntEncoder{}, sumReducer, 150*time.Millisecond)
	c1 := tc.join(t, taskSpec{id: `c1`, parentId: `root`}, TypeReduce, encoding.IntEncoder{}, sumReducer, 150*time.Millisecond)
	tc.join(t, taskSpec{id: `c2`, parentId: `root`}, TypeReduce, encoding.IntEncoder{}, sumReducer, 150*time.Millisecond)
	tc.initialize(t)

	ctx := context.Background()
	if err := tc.operator(t, c1).SendToParent(ctx, 1, data.Data); err != nil {
		t.Fatal(err)
	}

	begin := time.Now()
	_, err := tc.operator(t, root).ReceiveFromChildren(ctx, sumReducer)
	timeoutErr, ok := err.(ReceiveTimeoutError)
	if !ok {
		t.Fatalf(`expected ReceiveTimeoutError have %v`, err)
	}

	if !reflect.DeepEqual(timeoutErr.Pending, []string{`c2`}) {
		t.Errorf(`expected pending [c2] have %v`, timeoutErr.Pending)
	}

	if time.Since(begin) < 150*time.Millisecond {
		t.Error(`timeout fired early`)
	}
}

func TestOperatorTopology_ReceiveFromParentTimeout(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	tc.join(t, taskSpec{id: `p`, childIds: []string{`c`}}, TypeBroadcast, encoding.IntEncoder{}, nil, 100*time.Millisecond)
	child := tc.join(t, taskSpec{id: `c`, parentId: `p`}, TypeBroadcast, encoding.IntEncoder{}, nil, 100*time.Millisecond)
	tc.initialize(t)

	begin := time.Now()
	_, err := tc.operator(t, child).ReceiveFromParent(context.Background())
	timeoutErr, ok := err.(ReceiveTimeoutError)
	if !ok {
		t.Fatalf(`expected ReceiveTimeoutError have %v`, err)
	}

	if !reflect.DeepEqual(timeoutErr.Pending, []string{`p`}) {
		t.Errorf(`expected pending [p] have %v`, timeoutErr.Pending)
	}

	if time.Since(begin) < 100*time.Millisecond {
		t.Error(`timeout fired early`)
	}
}

func TestOperatorTopology_InitializeFailsForUnregisteredPeer(t *testing.T) {
	tc := newTestCluster()
	defer tc.close()

	// c2 never joins the cluster
	root := tc.join(t, taskSpec{id: `root`, childIds: []string{`c1`, `c2`}}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second)
	tc.join(t, taskSpec{id: `c1`, parentId: `root`}, TypeBroadcast, encoding.IntEncoder{}, nil, time.Second)

	begin := time.Now()
	err := root.Initialize(context.Background())
	initErr, ok := err.(InitializationError)
	if !ok {
		t.Fatalf(`expected InitializationError have %v`, err)
	}

	if initErr.Peer != `c2` {
		t.Errorf(`expected peer c2 have %s`, initErr.Peer)
	}

	if initErr.Attempts != 3 {
		t.Errorf(`expected 3 attempts have %d`, initErr.Attempts)
	}

	// 3 attempts with 5ms backoff between them
	if time.Since(begin) < 2*5*time.Millisecond {
		t.Error(`initialize returned before the retry budget elapsed`)
	}
}

func TestOperatorTopology_StateMachine(t *testing.T) {
	topology := directTopology(taskSpec{id: `self`, parentId: `p`, childIds: []string{`c`}}, encoding.IntEncoder{}, time.Second)
	ctx := context.Background()

	t.Run(`Uninitialized`, func(t *testing.T) {
		if err := topology.SendToParent(ctx, 1, data.Data); err != ErrNotInitialized {
			t.Errorf(`expected ErrNotInitialized have %v`, err)
		}
		if _, err := topology.ReceiveFromParent(ctx); err != ErrNotInitialized {
			t.Errorf(`expected ErrNotInitialized have %v`, err)
		}
	})

	if err := topology.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	t.Run(`DoubleInitialize`, func(t *testing.T) {
		err := topology.Initialize(ctx)
		if _, ok := err.(ArgumentError); !ok {
			t.Errorf(`expected ArgumentError have %v`, err)
		}
	})

	if err := topology.Close(); err != nil {
		t.Fatal(err)
	}

	t.Run(`Closed`, func(t *testing.T) {
		if err := topology.SendToParent(ctx, 1, data.Data); err != ErrClosed {
			t.Errorf(`expected ErrClosed have %v`, err)
		}
		if err := topology.OnMessage(data.NewMessage(testGroup, testOperator, `p`, `self`, data.Data, [][]byte{[]byte(`1`)})); err != ErrClosed {
			t.Errorf(`expected ErrClosed have %v`, err)
		}
	})
}

func TestOperatorTopology_OnMessageValidations(t *testing.T) {
	topology := directTopology(taskSpec{id: `self`, parentId: `p`, childIds: []string{`c`}}, encoding.IntEncoder{}, time.Second)

	t.Run(`NilMessage`, func(t *testing.T) {
		err := topology.OnMessage(nil)
		if _, ok := err.(MalformedMessageError); !ok {
			t.Errorf(`expected MalformedMessageError have %v`, err)
		}
	})

	t.Run(`MissingSource`, func(t *testing.T) {
		err := topology.OnMessage(&data.Message{Group: testGroup, Operator: testOperator})
		if _, ok := err.(MalformedMessageError); !ok {
			t.Errorf(`expected MalformedMessageError have %v`, err)
		}
	})

	t.Run(`UnknownPeer`, func(t *testing.T) {
		err := topology.OnMessage(data.NewMessage(testGroup, testOperator, `stranger`, `self`, data.Data, [][]byte{[]byte(`1`)}))
		if _, ok := err.(UnknownPeerError); !ok {
			t.Errorf(`expected UnknownPeerError have %v`, err)
		}
	})
}

func TestOperatorTopology_ScalarReceiveRejectsPayloadLists(t *testing.T) {
	topology := directTopology(taskSpec{id: `self`, parentId: `p`}, encoding.IntEncoder{}, time.Second)
	if err := topology.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	msg := data.NewMessage(testGroup, testOperator, `p`, `self`, data.Data, [][]byte{[]byte(`1`), []byte(`2`)})
	if err := topology.OnMessage(msg); err != nil {
		t.Fatal(err)
	}

	_, err := topology.ReceiveFromParent(context.Background())
	if _, ok := err.(ProtocolError); !ok {
		t.Errorf(`expected ProtocolError have %v`, err)
	}
}

func TestOperatorTopology_NoParentErrors(t *testing.T) {
	topology := directTopology(taskSpec{id: `root`, childIds: []string{`c`}}, encoding.IntEncoder{}, time.Second)
	if err := topology.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := topology.SendToParent(ctx, 1, data.Data); err != ErrNoParent {
		t.Errorf(`expected ErrNoParent have %v`, err)
	}
	if _, err := topology.ReceiveFromParent(ctx); err != ErrNoParent {
		t.Errorf(`expected ErrNoParent have %v`, err)
	}
}

func TestOperatorTopology_CancellationUnblocksReceivers(t *testing.T) {
	topology := directTopology(taskSpec{id: `root`, childIds: []string{`c`}}, encoding.IntEncoder{}, 10*time.Second)
	if err := topology.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := topology.ReceiveFromChildren(ctx, sumReducer)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		if err != context.Canceled {
			t.Errorf(`expected context.Canceled have %v`, err)
		}
	case <-time.After(time.Second):
		t.Fatal(`receiver did not unblock on cancellation`)
	}
}

func TestOperatorTopology_CloseUnblocksReceivers(t *testing.T) {
	topology := directTopology(taskSpec{id: `root`, childIds: []string{`c`}}, encoding.IntEncoder{}, 10*time.Second)
	if err := topology.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := topology.ReceiveFromChildren(context.Background(), sumReducer)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := topology.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		if err != ErrClosed {
			t.Errorf(`expected ErrClosed have %v`, err)
		}
	case <-time.After(time.Second):
		t.Fatal(`receiver did not unblock on close`)
	}
}
