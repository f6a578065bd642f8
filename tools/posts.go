package tools

import (
	"context"

	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
	"github.com/ggoodman/mcp-wordpress-gateway/wordpress"
)

func postCommands(b Backend) []mcpservice.Command {
	idsParam := func(name, desc string, opts ...mcpservice.ParamOption) mcpservice.Param {
		return mcpservice.Array(name, mcpservice.TypeInteger, append(opts, mcpservice.Minimum(1), mcpservice.Describe(desc))...)
	}

	return []mcpservice.Command{
		{
			Name:        "listPosts",
			Description: "List posts, optionally filtered by search term, status, categories or tags",
			Params: append(listParams(postOrderBy),
				idsParam("categories", "Only posts in all of these category IDs"),
				idsParam("tags", "Only posts with these tag IDs"),
			),
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				opts := listOptions(args)
				opts.Categories = args.Ints("categories")
				opts.Tags = args.Ints("tags")
				return b.ListPosts(ctx, opts)
			},
		},
		{
			Name:        "getPost",
			Description: "Fetch a single post by ID",
			Params:      []mcpservice.Param{idParam("post")},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.GetPost(ctx, args.Int("id"))
			},
		},
		{
			Name:        "createPost",
			Description: "Create a post",
			Params: []mcpservice.Param{
				mcpservice.String("title", mcpservice.Required()),
				mcpservice.String("content", mcpservice.Required(), mcpservice.Redacted(), mcpservice.Describe("Post body (HTML or block markup)")),
				mcpservice.Enum("status", postStatuses, mcpservice.Default("draft"), mcpservice.Describe(createStatusDesc)),
				mcpservice.String("excerpt"),
				mcpservice.String("slug", mcpservice.Describe("URL slug; derived from the title when empty")),
				idsParam("categories", "Category IDs to assign"),
				idsParam("tags", "Tag IDs to assign"),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.CreatePost(ctx, postInput(args))
			},
		},
		{
			Name:        "updatePost",
			Description: "Update fields of an existing post; omitted fields are left unchanged",
			Params: []mcpservice.Param{
				idParam("post"),
				mcpservice.String("title"),
				mcpservice.String("content", mcpservice.Redacted()),
				mcpservice.Enum("status", postStatuses),
				mcpservice.String("excerpt"),
				mcpservice.String("slug", mcpservice.Describe("URL slug; derived from the title when empty")),
				idsParam("categories", "Replacement category IDs"),
				idsParam("tags", "Replacement tag IDs"),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.UpdatePost(ctx, args.Int("id"), postInput(args))
			},
		},
		{
			Name:        "deletePost",
			Description: "Move a post to the trash, or delete it permanently with force",
			Params: []mcpservice.Param{
				idParam("post"),
				mcpservice.Boolean("force", mcpservice.Default(false), mcpservice.Describe("Bypass the trash")),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.DeletePost(ctx, args.Int("id"), args.Bool("force"))
			},
		},
		{
			Name:        "setPostCategories",
			Description: "Replace the categories assigned to a post",
			Params: []mcpservice.Param{
				idParam("post"),
				idsParam("categories", "Category IDs; an empty list clears them", mcpservice.Required()),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.SetPostCategories(ctx, args.Int("id"), args.Ints("categories"))
			},
		},
		{
			Name:        "setPostTags",
			Description: "Replace the tags assigned to a post",
			Params: []mcpservice.Param{
				idParam("post"),
				idsParam("tags", "Tag IDs; an empty list clears them", mcpservice.Required()),
			},
			Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
				return b.SetPostTags(ctx, args.Int("id"), args.Ints("tags"))
			},
		},
	}
}

func postInput(args mcpservice.Args) wordpress.PostInput {
	return wordpress.PostInput{
		Title:      optString(args, "title"),
		Content:    optString(args, "content"),
		Excerpt:    optString(args, "excerpt"),
		Status:     optString(args, "status"),
		Slug:       optString(args, "slug"),
		Categories: optInts(args, "categories"),
		Tags:       optInts(args, "tags"),
	}
}
