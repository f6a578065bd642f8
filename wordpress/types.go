package wordpress

// Rendered is a WordPress text field. Raw is only present in the edit
// context.
type Rendered struct {
	Raw       string `json:"raw,omitempty"`
	Rendered  string `json:"rendered"`
	Protected bool   `json:"protected,omitempty"`
}

// Post is a WordPress post record. Dates are kept in the site's local,
// zone-less format as returned by the API.
type Post struct {
	ID            int64    `json:"id"`
	Date          string   `json:"date,omitempty"`
	DateGMT       string   `json:"date_gmt,omitempty"`
	Modified      string   `json:"modified,omitempty"`
	Slug          string   `json:"slug,omitempty"`
	Status        string   `json:"status,omitempty"`
	Type          string   `json:"type,omitempty"`
	Link          string   `json:"link,omitempty"`
	Title         Rendered `json:"title"`
	Content       Rendered `json:"content"`
	Excerpt       Rendered `json:"excerpt"`
	Author        int64    `json:"author,omitempty"`
	FeaturedMedia int64    `json:"featured_media,omitempty"`
	Sticky        bool     `json:"sticky,omitempty"`
	Categories    []int64  `json:"categories"`
	Tags          []int64  `json:"tags"`
}

// Page is a WordPress page record.
type Page struct {
	ID            int64    `json:"id"`
	Date          string   `json:"date,omitempty"`
	DateGMT       string   `json:"date_gmt,omitempty"`
	Modified      string   `json:"modified,omitempty"`
	Slug          string   `json:"slug,omitempty"`
	Status        string   `json:"status,omitempty"`
	Type          string   `json:"type,omitempty"`
	Link          string   `json:"link,omitempty"`
	Title         Rendered `json:"title"`
	Content       Rendered `json:"content"`
	Excerpt       Rendered `json:"excerpt"`
	Author        int64    `json:"author,omitempty"`
	FeaturedMedia int64    `json:"featured_media,omitempty"`
	Parent        int64    `json:"parent"`
	MenuOrder     int64    `json:"menu_order"`
	Template      string   `json:"template,omitempty"`
}

// ListOptions filters a collection listing. Zero values are omitted from the
// query and the server default applies.
type ListOptions struct {
	Page       int64
	PerPage    int64
	Search     string
	Status     string
	OrderBy    string
	Order      string
	Categories []int64 // posts only
	Tags       []int64 // posts only
	Parent     *int64  // pages only
}

// List is one page of a collection listing.
type List[T any] struct {
	Items      []T   `json:"items"`
	Page       int64 `json:"page"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// PostInput is the writable subset of a post. Nil fields are left unchanged
// on update.
type PostInput struct {
	Title      *string  `json:"title,omitempty"`
	Content    *string  `json:"content,omitempty"`
	Excerpt    *string  `json:"excerpt,omitempty"`
	Status     *string  `json:"status,omitempty"`
	Slug       *string  `json:"slug,omitempty"`
	Sticky     *bool    `json:"sticky,omitempty"`
	Categories *[]int64 `json:"categories,omitempty"`
	Tags       *[]int64 `json:"tags,omitempty"`
}

// PageInput is the writable subset of a page.
type PageInput struct {
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	Excerpt   *string `json:"excerpt,omitempty"`
	Status    *string `json:"status,omitempty"`
	Slug      *string `json:"slug,omitempty"`
	Parent    *int64  `json:"parent,omitempty"`
	MenuOrder *int64  `json:"menu_order,omitempty"`
}

// Deleted reports the outcome of a delete. Without force WordPress moves the
// record to the trash and Trashed is set.
type Deleted[T any] struct {
	Deleted  bool `json:"deleted"`
	Trashed  bool `json:"trashed,omitempty"`
	Previous *T   `json:"previous,omitempty"`
}
