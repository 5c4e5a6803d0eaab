package activity

// Collection is an unordered set of references.
type Collection struct {
	ObjectBase
	TotalItems int                `json:"totalItems"`
	Items      References[Object] `json:"items"`
}

func (*Collection) Type() string { return CollectionType }

func (c Collection) MarshalJSON() ([]byte, error) {
	type alias Collection
	if c.Items == nil {
		c.Items = References[Object]{}
	}
	c.TotalItems = len(c.Items)
	return marshalTyped(CollectionType, alias(c))
}

func (c *Collection) UnmarshalJSON(b []byte) error {
	type alias Collection
	return unmarshalTyped(b, CollectionType, (*alias)(c))
}

// OrderedCollection is used for followers, following, outboxes and likes/shares.
// Large remote collections may only carry a link to their first page.
type OrderedCollection struct {
	ObjectBase
	TotalItems   int                               `json:"totalItems"`
	OrderedItems References[Object]                `json:"orderedItems"`
	First        Reference[*OrderedCollectionPage] `json:"first"`
}

func (*OrderedCollection) Type() string { return OrderedCollectionType }

func (c OrderedCollection) MarshalJSON() ([]byte, error) {
	type alias OrderedCollection
	if c.OrderedItems == nil {
		c.OrderedItems = References[Object]{}
	}
	if c.First.IsEmpty() {
		c.TotalItems = len(c.OrderedItems)
	}
	return marshalTyped(OrderedCollectionType, alias(c))
}

func (c *OrderedCollection) UnmarshalJSON(b []byte) error {
	type alias OrderedCollection
	return unmarshalTyped(b, OrderedCollectionType, (*alias)(c))
}

// Contains reports whether an item with the given id is in the collection.
func (c *OrderedCollection) Contains(id string) bool {
	return indexOf(c.OrderedItems, id) >= 0
}

// Add appends ref unless an item with the same id is already present.
// It reports whether the collection changed.
func (c *OrderedCollection) Add(ref Reference[Object]) bool {
	if ref.IsEmpty() || c.Contains(ref.Link()) {
		return false
	}
	c.OrderedItems = append(c.OrderedItems, ref)
	c.TotalItems = len(c.OrderedItems)
	return true
}

// Remove drops the item with the given id. It reports whether the collection changed.
func (c *OrderedCollection) Remove(id string) bool {
	i := indexOf(c.OrderedItems, id)
	if i < 0 {
		return false
	}
	c.OrderedItems = append(c.OrderedItems[:i], c.OrderedItems[i+1:]...)
	c.TotalItems = len(c.OrderedItems)
	return true
}

// OrderedCollectionPage is one page of a paged OrderedCollection.
type OrderedCollectionPage struct {
	ObjectBase
	PartOf       string                            `json:"partOf,omitempty"`
	Next         Reference[*OrderedCollectionPage] `json:"next"`
	OrderedItems References[Object]                `json:"orderedItems"`
}

func (*OrderedCollectionPage) Type() string { return OrderedCollectionPageType }

func (p OrderedCollectionPage) MarshalJSON() ([]byte, error) {
	type alias OrderedCollectionPage
	if p.OrderedItems == nil {
		p.OrderedItems = References[Object]{}
	}
	return marshalTyped(OrderedCollectionPageType, alias(p))
}

func (p *OrderedCollectionPage) UnmarshalJSON(b []byte) error {
	type alias OrderedCollectionPage
	return unmarshalTyped(b, OrderedCollectionPageType, (*alias)(p))
}

// NewOrderedCollection returns an empty collection with the given id.
func NewOrderedCollection(id string) *OrderedCollection {
	return &OrderedCollection{
		ObjectBase:   ObjectBase{ID: id},
		OrderedItems: References[Object]{},
	}
}

func indexOf(items References[Object], id string) int {
	for i, item := range items {
		if item.Link() == id {
			return i
		}
	}
	return -1
}
