/*
Package discovery finds module files on disk and loads the values they export.

An application directory is laid out by category:

	blog/
	  models/posts.yaml
	  controllers/posts/[id].yaml
	  admin/posts.yaml
	  controllers/!drafts/wip.yaml   # excluded folder
	  controllers/!old.yaml          # excluded file

Each accepted file is loaded into an untyped value. Mappings decode to
map[string]any, sequences to []any, and scalars tagged !handler resolve to a
route.Handler through a Symbols table:

	# blog/controllers/posts.yaml
	- { path: "", controller: !handler records.list posts, methods: [GET] }
	- { path: ":id", controller: !handler records.get posts }

The walker reports identifiers relative to the category folder, so the file
above yields the segments [posts].

Problems with individual files never abort a walk: they are logged and
reported as *Warning values, and the walk moves on.
*/
package discovery
