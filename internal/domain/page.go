package domain

const (
	// DefaultPageSize applies when the caller omits a page size.
	DefaultPageSize = 20
	// MaxPageSize caps any requested page size.
	MaxPageSize = 100
	// MaxPageNumber keeps offsets and page arithmetic far from int overflow.
	MaxPageNumber = 1_000_000
)

// Page is a normalised offset pagination request.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to [1, MaxPageNumber] and size to (0, MaxPageSize].
// A zero size selects DefaultPageSize.
func NewPage(number, size int) Page {
	switch {
	case number < 1:
		number = 1
	case number > MaxPageNumber:
		number = MaxPageNumber
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}
