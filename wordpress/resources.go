package wordpress

import "context"

func (c *Client) ListPosts(ctx context.Context, opts ListOptions) (*List[Post], error) {
	return c.posts.list(ctx, opts)
}

func (c *Client) GetPost(ctx context.Context, id int64) (*Post, error) {
	return c.posts.get(ctx, id)
}

func (c *Client) CreatePost(ctx context.Context, in PostInput) (*Post, error) {
	return c.posts.create(ctx, in)
}

func (c *Client) UpdatePost(ctx context.Context, id int64, in PostInput) (*Post, error) {
	return c.posts.update(ctx, id, in)
}

// DeletePost trashes the post, or removes it permanently when force is set.
func (c *Client) DeletePost(ctx context.Context, id int64, force bool) (*Deleted[Post], error) {
	return c.posts.delete(ctx, id, force)
}

// SetPostCategories replaces the post's category assignment.
func (c *Client) SetPostCategories(ctx context.Context, id int64, categories []int64) (*Post, error) {
	if categories == nil {
		categories = []int64{}
	}
	return c.posts.update(ctx, id, map[string]any{"categories": categories})
}

// SetPostTags replaces the post's tag assignment.
func (c *Client) SetPostTags(ctx context.Context, id int64, tags []int64) (*Post, error) {
	if tags == nil {
		tags = []int64{}
	}
	return c.posts.update(ctx, id, map[string]any{"tags": tags})
}

func (c *Client) ListPages(ctx context.Context, opts ListOptions) (*List[Page], error) {
	return c.pages.list(ctx, opts)
}

func (c *Client) GetPage(ctx context.Context, id int64) (*Page, error) {
	return c.pages.get(ctx, id)
}

func (c *Client) CreatePage(ctx context.Context, in PageInput) (*Page, error) {
	return c.pages.create(ctx, in)
}

func (c *Client) UpdatePage(ctx context.Context, id int64, in PageInput) (*Page, error) {
	return c.pages.update(ctx, id, in)
}

// DeletePage trashes the page, or removes it permanently when force is set.
func (c *Client) DeletePage(ctx context.Context, id int64, force bool) (*Deleted[Page], error) {
	return c.pages.delete(ctx, id, force)
}

// SetPageParent moves the page under parent; zero makes it top level.
func (c *Client) SetPageParent(ctx context.Context, id, parent int64) (*Page, error) {
	return c.pages.update(ctx, id, map[string]any{"parent": parent})
}
