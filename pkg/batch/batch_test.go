package batch_test

import (
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaykit/hubsink/pkg/batch"
	"github.com/relaykit/hubsink/pkg/entry"
)

func TestBatch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Batch Suite")
}

// itemOfSize builds an item whose encoded form is exactly n bytes.
func itemOfSize(n int) batch.Item {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = 'x'
	}
	return batch.Item{Encoded: payload}
}

var _ = Describe("PartitionCount", func() {
	It("should split items into runs of exactly the requested count", func() {
		items := make([]batch.Item, 7)
		for i := range items {
			items[i] = itemOfSize(10)
		}

		batches := batch.PartitionCount(items, 3)
		Expect(batches).To(HaveLen(3))
		Expect(batches[0].Len()).To(Equal(3))
		Expect(batches[1].Len()).To(Equal(3))
		Expect(batches[2].Len()).To(Equal(1))
	})

	It("should return one short batch when fewer items than the count remain", func() {
		items := []batch.Item{itemOfSize(10), itemOfSize(10)}

		batches := batch.PartitionCount(items, 5)
		Expect(batches).To(HaveLen(1))
		Expect(batches[0].Len()).To(Equal(2))
	})

	It("should emit one batch per item for count one", func() {
		items := []batch.Item{itemOfSize(10), itemOfSize(20), itemOfSize(30)}

		batches := batch.PartitionCount(items, 1)
		Expect(batches).To(HaveLen(3))
		for _, b := range batches {
			Expect(b.Len()).To(Equal(1))
		}
	})

	It("should return nothing for no items", func() {
		Expect(batch.PartitionCount(nil, 3)).To(BeEmpty())
	})
})

var _ = Describe("PartitionAuto", func() {
	It("should pack two 400 byte entries per batch under a 1000 byte ceiling", func() {
		items := make([]batch.Item, 6)
		for i := range items {
			items[i] = itemOfSize(400)
		}

		batches := batch.PartitionAuto(items, 1000)
		Expect(batches).To(HaveLen(3))
		for _, b := range batches {
			Expect(b.Len()).To(Equal(2))
			// 400 + 400 + one separator + two brackets
			Expect(len(b.Body)).To(Equal(803))
		}
	})

	It("should never assemble a body above the ceiling except for single oversized items", func() {
		sizes := []int{100, 900, 50, 50, 50, 2000, 10, 980, 981}
		items := make([]batch.Item, len(sizes))
		for i, n := range sizes {
			items[i] = itemOfSize(n)
		}

		batches := batch.PartitionAuto(items, 1000)

		total := 0
		for _, b := range batches {
			total += b.Len()
			if b.Len() > 1 {
				Expect(len(b.Body)).To(BeNumerically("<=", 1000))
			}
		}
		Expect(total).To(Equal(len(items)))
	})

	It("should keep an oversized item as its own batch instead of rejecting it", func() {
		items := []batch.Item{itemOfSize(10), itemOfSize(5000), itemOfSize(10)}

		batches := batch.PartitionAuto(items, 1000)
		Expect(batches).To(HaveLen(3))
		Expect(batches[1].Len()).To(Equal(1))
		Expect(len(batches[1].Body)).To(Equal(5002))
	})

	It("should preserve the order of items across batches", func() {
		items := make([]batch.Item, 5)
		for i := range items {
			items[i] = batch.Item{Encoded: []byte(fmt.Sprintf("%04d", i))}
		}

		batches := batch.PartitionAuto(items, 11)

		var got []string
		for _, b := range batches {
			for _, item := range b.Items {
				got = append(got, string(item.Encoded))
			}
		}
		Expect(got).To(Equal([]string{"0000", "0001", "0002", "0003", "0004"}))
	})

	It("should fall back to the default ceiling for a non-positive ceiling", func() {
		items := []batch.Item{itemOfSize(100), itemOfSize(100)}

		batches := batch.PartitionAuto(items, 0)
		Expect(batches).To(HaveLen(1))
		Expect(batches[0].Len()).To(Equal(2))
	})
})

var _ = Describe("Body assembly", func() {
	It("should produce the same bytes as encoding the entries as one JSON array", func() {
		entries := []entry.Entry{
			{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Severity: entry.SeverityInformation, Message: "first"},
			{Time: time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC), Severity: entry.SeverityWarning, Message: "second", Source: "unit"},
			{Time: time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC), Severity: entry.SeverityError, Message: "third", Sequence: 7},
		}

		items := make([]batch.Item, len(entries))
		for i, e := range entries {
			encoded, err := entry.Encode(e)
			Expect(err).NotTo(HaveOccurred())
			items[i] = batch.Item{Encoded: encoded}
		}

		batches := batch.PartitionAuto(items, batch.DefaultCeilingBytes)
		Expect(batches).To(HaveLen(1))

		want, err := entry.EncodeBatch(entries)
		Expect(err).NotTo(HaveOccurred())
		Expect(batches[0].Body).To(Equal(want))
	})

	It("should report the assembled size through BodySize", func() {
		Expect(batch.BodySize(0, 0)).To(Equal(2))
		Expect(batch.BodySize(1, 400)).To(Equal(402))
		Expect(batch.BodySize(2, 800)).To(Equal(803))
		Expect(batch.BodySize(3, 1200)).To(Equal(1204))
	})
})
