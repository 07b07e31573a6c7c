package core

import "fmt"

// BlockLookup resolves a block by hash; both the engine's reorg logic and
// the renderer pipeline's confirmation tracking need only this much of the
// store to walk block genealogy.
type BlockLookup func(hash HashDigest) (*Block, bool, error)

// CommonAncestor finds the branchpoint of a and b (§4.3.4): the deepest
// block reachable from both via PreviousHash. It walks the deeper of the
// two up to equal index, then both in lockstep until the hashes match.
// ErrOrphanChain is returned if no common ancestor exists.
func CommonAncestor(get BlockLookup, a, b *Block) (*Block, error) {
	for a.Index > b.Index {
		parent, err := parentOf(get, a)
		if err != nil {
			return nil, err
		}
		a = parent
	}
	for b.Index > a.Index {
		parent, err := parentOf(get, b)
		if err != nil {
			return nil, err
		}
		b = parent
	}
	for a.Hash != b.Hash {
		if a.PreviousHash == nil || b.PreviousHash == nil {
			return nil, ErrOrphanChain
		}
		pa, err := parentOf(get, a)
		if err != nil {
			return nil, err
		}
		pb, err := parentOf(get, b)
		if err != nil {
			return nil, err
		}
		a, b = pa, pb
	}
	return a, nil
}

func parentOf(get BlockLookup, b *Block) (*Block, error) {
	if b.PreviousHash == nil {
		return nil, ErrOrphanChain
	}
	parent, ok, err := get(*b.PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("core: lookup parent of %s: %w", b.Hash, err)
	}
	if !ok {
		return nil, fmt.Errorf("core: parent %s of %s not found", b.PreviousHash, b.Hash)
	}
	return parent, nil
}

// ErrOrphanChain indicates two blocks share no common ancestor, or a requested
// parent isn't reachable (§4.3.4, §7).
var ErrOrphanChain = fmt.Errorf("core: orphan chain, no common ancestor")
