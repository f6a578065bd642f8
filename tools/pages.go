package tools

import (
	"context"

	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
	"github.com/ggoodman/mcp-wordpress-gateway/wordpress"
)

func pageCommands(b Backend) []mcpservice.Command {
	parent := func(opts ...mcpservice.ParamOption) mcpservice.Param {
		return mcpservice.Integer("parent", append(opts, mcpservice.Minimum(0), mcpservice.Describe("Parent page ID; 0 for top level"))...)
	}

	return []mcpservice.Command{
		{
			Name:        "listPages",
			Description: "List pages, optionally filtered by search term, status or parent",
			Params:      append(listParams(pageOrderBy), parent()),
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				opts := listOptions(args)
				opts.Parent = optInt(args, "parent")
				return b.ListPages(ctx, opts)
			},
		},
		{
			Name:        "getPage",
			Description: "Fetch a single page by ID",
			Params:      []mcpservice.Param{idParam("page")},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.GetPage(ctx, args.Int("id"))
			},
		},
		{
			Name:        "createPage",
			Description: "Create a page",
			Params: []mcpservice.Param{
				mcpservice.String("title", mcpservice.Required()),
				mcpservice.String("content", mcpservice.Required(), mcpservice.Redacted()),
				mcpservice.Enum("status", postStatuses, mcpservice.Default("draft"), mcpservice.Describe(createStatusDesc)),
				mcpservice.String("excerpt"),
				mcpservice.String("slug", mcpservice.Describe("URL slug; derived from the title when empty")),
				parent(),
				mcpservice.Integer("menuOrder", mcpservice.Describe("Position among sibling pages")),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.CreatePage(ctx, pageInput(args))
			},
		},
		{
			Name:        "updatePage",
			Description: "Update fields of an existing page; omitted fields are left unchanged",
			Params: []mcpservice.Param{
				idParam("page"),
				mcpservice.String("title"),
				mcpservice.String("content", mcpservice.Redacted()),
				mcpservice.Enum("status", postStatuses),
				mcpservice.String("excerpt"),
				mcpservice.String("slug", mcpservice.Describe("URL slug; derived from the title when empty")),
				parent(),
				mcpservice.Integer("menuOrder"),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.UpdatePage(ctx, args.Int("id"), pageInput(args))
			},
		},
		{
			Name:        "deletePage",
			Description: "Move a page to the trash, or delete it permanently with force",
			Params: []mcpservice.Param{
				idParam("page"),
				mcpservice.Boolean("force", mcpservice.Default(false)),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.DeletePage(ctx, args.Int("id"), args.Bool("force"))
			},
		},
		{
			Name:        "setPageParent",
			Description: "Move a page under another page",
			Params:      []mcpservice.Param{idParam("page"), parent(mcpservice.Required())},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.SetPageParent(ctx, args.Int("id"), args.Int("parent"))
			},
		},
	}
}

func pageInput(args mcpservice.Args) wordpress.PageInput {
	return wordpress.PageInput{
		Title:     optString(args, "title"),
		Content:   optString(args, "content"),
		Excerpt:   optString(args, "excerpt"),
		Status:    optString(args, "status"),
		Slug:      optString(args, "slug"),
		Parent:    optInt(args, "parent"),
		MenuOrder: optInt(args, "menuOrder"),
	}
}
