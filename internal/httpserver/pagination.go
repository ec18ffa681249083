package httpserver

// window turns a 1-based page and a page size into an offset and limit.
func window(page, size, maxSize int) (from, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxSize {
		size = 20
	}
	return (page - 1) * size, size
}
