package sim

import "iptcp-stack/pkg/netif"

// A delivery is a frame in flight on a hub, due at a given hub time.
type delivery struct {
	at     uint64
	seq    uint64 // transmit order, breaks ties between equal times
	index  int    // the index of the delivery in the heap
	sender *netif.NetworkInterface
	frame  []byte
}

// A deliveryQueue implements heap.Interface and holds deliveries ordered by
// due time.
type deliveryQueue []*delivery

func (dq deliveryQueue) Len() int { return len(dq) }

func (dq deliveryQueue) Less(i, j int) bool {
	if dq[i].at != dq[j].at {
		return dq[i].at < dq[j].at
	}
	return dq[i].seq < dq[j].seq
}

func (dq deliveryQueue) Swap(i, j int) {
	dq[i], dq[j] = dq[j], dq[i]
	dq[i].index = i
	dq[j].index = j
}

func (dq *deliveryQueue) Push(x any) {
	n := len(*dq)
	item := x.(*delivery)
	item.index = n
	*dq = append(*dq, item)
}

func (dq *deliveryQueue) Pop() any {
	old := *dq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*dq = old[0 : n-1]
	return item
}
