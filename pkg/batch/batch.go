package batch

// DefaultCeilingBytes is the default byte ceiling for one auto-sized payload
// body. It keeps the assembled JSON array safely under the hub's 256 KiB
// request limit.
const DefaultCeilingBytes = 256000

// Envelope cost of the JSON array body: two brackets plus one comma between
// consecutive items.
const (
	bracketOverhead   = 2
	separatorOverhead = 1
)

// Item is one serialized entry awaiting delivery.
type Item struct {
	Encoded []byte
}

// Size returns the encoded size of the item in bytes.
func (i Item) Size() int { return len(i.Encoded) }

// Batch is an ordered run of items forming the body of one hub request.
type Batch struct {
	Items []Item
	Body  []byte
}

// Len returns the number of entries in the batch.
func (b Batch) Len() int { return len(b.Items) }

// BodySize returns the serialized size of a JSON array holding count items
// whose encoded sizes sum to totalEncoded.
func BodySize(count, totalEncoded int) int {
	if count == 0 {
		return bracketOverhead
	}
	return totalEncoded + (count-1)*separatorOverhead + bracketOverhead
}

// PartitionAuto splits items into consecutive batches whose assembled body
// stays at or below ceilingBytes. A single item that alone exceeds the
// ceiling still forms its own batch; it is never rejected.
func PartitionAuto(items []Item, ceilingBytes int) []Batch {
	if len(items) == 0 {
		return nil
	}
	if ceilingBytes <= 0 {
		ceilingBytes = DefaultCeilingBytes
	}

	var batches []Batch
	var span []Item
	spanSize := bracketOverhead

	for _, item := range items {
		added := item.Size()
		if len(span) > 0 {
			added += separatorOverhead
		}

		if len(span) > 0 && spanSize+added > ceilingBytes {
			batches = append(batches, assemble(span))
			span = nil
			spanSize = bracketOverhead
			added = item.Size()
		}

		span = append(span, item)
		spanSize += added
	}

	if len(span) > 0 {
		batches = append(batches, assemble(span))
	}

	return batches
}

// PartitionCount splits items into consecutive batches of exactly count
// items; only the final batch may run short. A count below one yields a
// single batch holding everything.
func PartitionCount(items []Item, count int) []Batch {
	if len(items) == 0 {
		return nil
	}
	if count < 1 {
		return []Batch{assemble(items)}
	}

	batches := make([]Batch, 0, (len(items)+count-1)/count)
	for start := 0; start < len(items); start += count {
		end := start + count
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, assemble(items[start:end]))
	}

	return batches
}

// assemble builds the JSON array body for the items. The result matches what
// encoding the same entries as one JSON array would produce.
func assemble(items []Item) Batch {
	total := 0
	for _, item := range items {
		total += item.Size()
	}

	body := make([]byte, 0, BodySize(len(items), total))
	body = append(body, '[')
	for i, item := range items {
		if i > 0 {
			body = append(body, ',')
		}
		body = append(body, item.Encoded...)
	}
	body = append(body, ']')

	return Batch{Items: items, Body: body}
}
