package inode

// Dentry is a (name, child-set, parent, inode) node (spec.md §3). The
// root dentry is distinguished and has a nil Parent. Child-set is keyed
// by case-preserving byte-name, matching Windows namespace semantics.
type Dentry struct {
	Name     string
	Parent   *Dentry
	Children map[string]*Dentry
	Inode    ID
}

func newDentry(name string, parent *Dentry, in ID) *Dentry {
	return &Dentry{Name: name, Parent: parent, Children: make(map[string]*Dentry), Inode: in}
}

// IsRoot reports whether d is the tree's root dentry.
func (d *Dentry) IsRoot() bool { return d.Parent == nil }

// attach links d under parent with basename name, registering it in the
// parent's child-set.
func (d *Dentry) attach(parent *Dentry, name string) {
	d.Parent = parent
	d.Name = name
	parent.Children[name] = d
}

// detach removes d from its current parent's child-set without changing
// d.Parent/d.Name, so a rename can re-attach it elsewhere.
func (d *Dentry) detach() {
	if d.Parent != nil {
		delete(d.Parent.Children, d.Name)
	}
}
