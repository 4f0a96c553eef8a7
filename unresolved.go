package configtree

import "context"

// UnresolvedContainer is the read-only lazy view of a container node.
// Values read through it are resolved on demand; untouched siblings
// stay untouched. Nested containers come back as unresolved containers
// themselves.
type UnresolvedContainer interface {
	// GetKeypath descends a dotted keypath and returns the value there,
	// resolving exactly the nodes along the path.
	GetKeypath(ctx context.Context, keypath string) (any, error)

	// Resolve resolves the entire container eagerly.
	Resolve(ctx context.Context) (any, error)

	container() node
}

// wrapContainer wraps a node in its lazy container view, or returns
// nil when the node is a leaf.
func wrapContainer(n node) UnresolvedContainer {
	switch c := n.(type) {
	case *dictNode:
		return &UnresolvedDict{node: c}
	case *listNode:
		return &UnresolvedList{node: c}
	case *funcNode:
		return &UnresolvedFunctionCall{node: c}
	default:
		return nil
	}
}

// wrapValue turns a resolved-on-demand child into what a container
// read should hand out: leaves resolve to their final value, nested
// containers stay lazy.
func wrapValue(ctx context.Context, n node) (any, error) {
	resolved, err := derefFunctionCalls(ctx, n)
	if err != nil {
		return nil, err
	}
	if c := wrapContainer(resolved); c != nil {
		return c, nil
	}
	return resolved.resolve(ctx)
}

// UnresolvedDict is the lazy view of a dictionary node.
type UnresolvedDict struct {
	node *dictNode
}

// Keys lists the dictionary's keys in resolution order.
func (u *UnresolvedDict) Keys() []string {
	keys := make([]string, len(u.node.keys))
	copy(keys, u.node.keys)
	return keys
}

// Len returns the number of keys.
func (u *UnresolvedDict) Len() int { return len(u.node.keys) }

// HasKey reports whether the dictionary contains the key.
func (u *UnresolvedDict) HasKey(key string) bool {
	_, ok := u.node.children[key]
	return ok
}

// Get resolves and returns the value under key. Nested containers are
// returned unresolved.
func (u *UnresolvedDict) Get(ctx context.Context, key string) (any, error) {
	child, err := u.node.childAt(ctx, key)
	if err != nil {
		return nil, err
	}
	return wrapValue(ctx, child)
}

// GetKeypath descends a dotted keypath rooted at this dictionary.
func (u *UnresolvedDict) GetKeypath(ctx context.Context, keypath string) (any, error) {
	target, err := nodeAtKeypath(ctx, u.node, ParseKeypath(keypath))
	if err != nil {
		return nil, err
	}
	return wrapValue(ctx, target)
}

// Resolve resolves the whole dictionary eagerly.
func (u *UnresolvedDict) Resolve(ctx context.Context) (any, error) {
	return u.node.resolve(ctx)
}

func (u *UnresolvedDict) container() node { return u.node }

// UnresolvedList is the lazy view of a list node.
type UnresolvedList struct {
	node *listNode
}

// Len returns the number of elements.
func (u *UnresolvedList) Len() int { return len(u.node.children) }

// Index resolves and returns the element at position i. Nested
// containers are returned unresolved.
func (u *UnresolvedList) Index(ctx context.Context, i int) (any, error) {
	child, err := u.node.childAt(ctx, i)
	if err != nil {
		return nil, err
	}
	return wrapValue(ctx, child)
}

// GetKeypath descends a dotted keypath rooted at this list; the first
// segment must be a decimal index.
func (u *UnresolvedList) GetKeypath(ctx context.Context, keypath string) (any, error) {
	target, err := nodeAtKeypath(ctx, u.node, ParseKeypath(keypath))
	if err != nil {
		return nil, err
	}
	return wrapValue(ctx, target)
}

// Resolve resolves the whole list eagerly.
func (u *UnresolvedList) Resolve(ctx context.Context) (any, error) {
	return u.node.resolve(ctx)
}

func (u *UnresolvedList) container() node { return u.node }

// UnresolvedFunctionCall is the lazy view of a function call that has
// not been evaluated yet. Reading through it evaluates the call once
// and delegates to the resulting container.
type UnresolvedFunctionCall struct {
	node *funcNode
}

// GetKeypath evaluates the call and descends into its result.
func (u *UnresolvedFunctionCall) GetKeypath(ctx context.Context, keypath string) (any, error) {
	target, err := nodeAtKeypath(ctx, u.node, ParseKeypath(keypath))
	if err != nil {
		return nil, err
	}
	return wrapValue(ctx, target)
}

// Resolve evaluates the call and resolves its result eagerly.
func (u *UnresolvedFunctionCall) Resolve(ctx context.Context) (any, error) {
	return u.node.resolve(ctx)
}

func (u *UnresolvedFunctionCall) container() node { return u.node }
