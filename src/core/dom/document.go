package dom

// MutationBatch is one notification from the page host: subtrees inserted
// and elements removed, in document order. Added holds subtree roots only;
// handlers are responsible for scanning descendants.
type MutationBatch struct {
	Added   []*Element
	Removed []*Element
}

// Document is the mirrored tree plus its mutation subscription. All methods
// must be called from the owning session's loop goroutine.
type Document struct {
	Root *Element

	byID map[string]*Element
	subs []func(MutationBatch)
}

// NewDocument creates an empty document with a body root.
func NewDocument() *Document {
	root := NewElement("body")
	d := &Document{
		Root: root,
		byID: make(map[string]*Element),
	}
	d.index(root)
	return d
}

// OnMutation subscribes fn to mutation batches. Subscribers run on the loop
// goroutine, in registration order.
func (d *Document) OnMutation(fn func(MutationBatch)) {
	d.subs = append(d.subs, fn)
}

// ByID returns the element with the given identity, nil when absent or
// already detached.
func (d *Document) ByID(id string) *Element {
	el := d.byID[id]
	if el == nil || el.detached {
		return nil
	}
	return el
}

// Insert attaches a subtree under the parent with the given id and notifies
// subscribers. An unknown parent means the page host raced a removal; the
// subtree is kept under the root so its elements stay reachable by id.
func (d *Document) Insert(parentID string, el *Element) {
	parent := d.ByID(parentID)
	if parent == nil {
		parent = d.Root
	}
	parent.AppendChild(el)
	el.Walk(func(n *Element) bool {
		d.index(n)
		return true
	})
	d.notify(MutationBatch{Added: []*Element{el}})
}

// Remove detaches the subtree rooted at id and notifies subscribers so
// per-element state can be pruned.
func (d *Document) Remove(id string) {
	el := d.ByID(id)
	if el == nil {
		return
	}
	if p := el.Parent; p != nil {
		for i, c := range p.Children {
			if c == el {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	removed := make([]*Element, 0, 4)
	el.Walk(func(n *Element) bool {
		n.detached = true
		delete(d.byID, n.ID)
		removed = append(removed, n)
		return true
	})
	el.Parent = nil
	d.notify(MutationBatch{Removed: removed})
}

// InsertAfter places el as the next sibling of ref. Used for overlay nodes
// the agent itself renders; no mutation notification is emitted, so the
// watcher never re-examines the agent's own writes.
func (d *Document) InsertAfter(ref, el *Element) {
	p := ref.Parent
	if p == nil {
		return
	}
	el.Parent = p
	for i, c := range p.Children {
		if c == ref {
			p.Children = append(p.Children[:i+1], append([]*Element{el}, p.Children[i+1:]...)...)
			d.index(el)
			return
		}
	}
	p.Children = append(p.Children, el)
	d.index(el)
}

func (d *Document) index(el *Element) {
	d.byID[el.ID] = el
}

func (d *Document) notify(batch MutationBatch) {
	for _, fn := range d.subs {
		fn(batch)
	}
}
