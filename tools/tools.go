// Package tools defines the commands the gateway exposes: CRUD for WordPress
// posts and pages plus a few metadata updates.
package tools

import (
	"context"

	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
	"github.com/ggoodman/mcp-wordpress-gateway/wordpress"
)

// Backend is the subset of *wordpress.Client the commands call.
type Backend interface {
	ListPosts(ctx context.Context, opts wordpress.ListOptions) (*wordpress.List[wordpress.Post], error)
	GetPost(ctx context.Context, id int64) (*wordpress.Post, error)
	CreatePost(ctx context.Context, in wordpress.PostInput) (*wordpress.Post, error)
	UpdatePost(ctx context.Context, id int64, in wordpress.PostInput) (*wordpress.Post, error)
	DeletePost(ctx context.Context, id int64, force bool) (*wordpress.Deleted[wordpress.Post], error)
	SetPostCategories(ctx context.Context, id int64, categories []int64) (*wordpress.Post, error)
	SetPostTags(ctx context.Context, id int64, tags []int64) (*wordpress.Post, error)

	ListPages(ctx context.Context, opts wordpress.ListOptions) (*wordpress.List[wordpress.Page], error)
	GetPage(ctx context.Context, id int64) (*wordpress.Page, error)
	CreatePage(ctx context.Context, in wordpress.PageInput) (*wordpress.Page, error)
	UpdatePage(ctx context.Context, id int64, in wordpress.PageInput) (*wordpress.Page, error)
	DeletePage(ctx context.Context, id int64, force bool) (*wordpress.Deleted[wordpress.Page], error)
	SetPageParent(ctx context.Context, id, parent int64) (*wordpress.Page, error)
}

var _ Backend = (*wordpress.Client)(nil)

var (
	postStatuses     = []string{"publish", "future", "draft", "pending", "private"}
	listStatuses     = append(append([]string(nil), postStatuses...), "any")
	postOrderBy      = []string{"date", "modified", "title", "id", "slug"}
	pageOrderBy      = []string{"date", "modified", "title", "id", "slug", "menu_order"}
	sortDirections   = []string{"asc", "desc"}
	defaultPerPage   = 10
	maxPerPage       = 100
	createStatusDesc = "Publication status; new content starts as a draft unless stated"
)

// NewRegistry builds the command registry backed by b.
func NewRegistry(b Backend) (*mcpservice.Registry, error) {
	return mcpservice.NewRegistry(Commands(b)...)
}

// Commands returns every command in listing order.
func Commands(b Backend) []mcpservice.Command {
	return append(postCommands(b), pageCommands(b)...)
}

func idParam(what string) mcpservice.Param {
	return mcpservice.Integer("id", mcpservice.Required(), mcpservice.Minimum(1), mcpservice.Describe("ID of the "+what))
}

func listParams(orderBy []string) []mcpservice.Param {
	return []mcpservice.Param{
		mcpservice.Integer("page", mcpservice.Minimum(1), mcpservice.Default(1), mcpservice.Describe("1-based result page")),
		mcpservice.Integer("perPage", mcpservice.Minimum(1), mcpservice.Maximum(float64(maxPerPage)), mcpservice.Default(defaultPerPage)),
		mcpservice.String("search", mcpservice.Describe("Full-text search term")),
		mcpservice.Enum("status", listStatuses, mcpservice.Default("publish")),
		mcpservice.Enum("orderBy", orderBy, mcpservice.Default("date")),
		mcpservice.Enum("order", sortDirections, mcpservice.Default("desc")),
	}
}

func listOptions(args mcpservice.Args) wordpress.ListOptions {
	return wordpress.ListOptions{
		Page:    args.Int("page"),
		PerPage: args.Int("perPage"),
		Search:  args.String("search"),
		Status:  args.String("status"),
		OrderBy: args.String("orderBy"),
		Order:   args.String("order"),
	}
}

func optString(args mcpservice.Args, name string) *string {
	if !args.Has(name) {
		return nil
	}
	s := args.String(name)
	return &s
}

func optInt(args mcpservice.Args, name string) *int64 {
	if !args.Has(name) {
		return nil
	}
	n := args.Int(name)
	return &n
}

func optInts(args mcpservice.Args, name string) *[]int64 {
	if !args.Has(name) {
		return nil
	}
	ids := args.Ints(name)
	if ids == nil {
		ids = []int64{}
	}
	return &ids
}
