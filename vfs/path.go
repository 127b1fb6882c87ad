package vfs

import "strings"

// MaxSymlinkDepth bounds symlink-following recursion during path walk
// (spec.md §4.H: "implementer-defined, default 40").
const MaxSymlinkDepth = 40

// walk splits path on "/" and resolves it starting from v.root for an
// absolute path, or from base for a relative one. followFinalSymlink
// controls whether a symlink as the path's last component is itself
// resolved (true for most operations, false for e.g. lstat).
func (v *VFS) walk(base *Dentry, path string, followFinalSymlink bool) (*Dentry, error) {
	return v.walkDepth(base, path, followFinalSymlink, 0)
}

func (v *VFS) walkDepth(base *Dentry, path string, followFinalSymlink bool, depth int) (*Dentry, error) {
	if depth > MaxSymlinkDepth {
		return nil, ErrTooManySymlinks
	}

	cur := base
	if strings.HasPrefix(path, "/") {
		cur = v.root
	}

	comps := strings.Split(path, "/")
	for i, comp := range comps {
		if comp == "" || comp == "." {
			continue
		}
		last := i == len(comps)-1

		if comp == ".." {
			if cur != v.root && cur.parent != nil {
				cur = cur.parent
			}
			continue
		}

		child := cur.Child(comp)
		if child == nil {
			dirInode := cur.Inode()
			if dirInode == nil {
				return nil, ErrNotFound
			}
			if !dirInode.Getattr().Mode.IsDir() {
				return nil, ErrNotADirectory
			}
			childInode, err := dirInode.Lookup(comp)
			if err != nil {
				neg := NewDentry(comp, nil, cur)
				cur.SetChild(comp, neg)
				return nil, ErrNotFound
			}
			child = NewDentry(comp, childInode, cur)
			cur.SetChild(comp, child)
		}

		if child.IsNegative() {
			return nil, ErrNotFound
		}

		mode := child.Inode().Getattr().Mode
		if !last && !mode.IsDir() && !mode.IsSymlink() {
			return nil, ErrNotADirectory
		}

		if mode.IsSymlink() && (!last || followFinalSymlink) {
			target, err := child.Inode().Symlink()
			if err != nil {
				return nil, err
			}
			resolved, err := v.walkDepth(cur, target, true, depth+1)
			if err != nil {
				return nil, err
			}
			cur = resolved
			continue
		}

		if mounted := child.mountedRoot(); mounted != nil {
			cur = mounted
		} else {
			cur = child
		}
	}

	return cur, nil
}

// splitParent splits a path into its parent directory path and final
// component name, e.g. "/a/b/c" -> ("/a/b", "c").
func splitParent(path string) (dir, name string) {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ".", path
	}
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}
