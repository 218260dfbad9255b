package router

// BoundedCopy copies as much of src as fits into dst. It returns the number of
// bytes copied and whether src was longer than dst.
func BoundedCopy(dst, src []byte) (n int, truncated bool) {
	n = copy(dst, src)
	return n, len(src) > len(dst)
}
