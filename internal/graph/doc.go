// Package graph holds the render graph: the read-only map of target
// identifiers to their declared source file, dependencies and assets.
//
// # Lifecycle
//
// A Graph is built for one resolution pass and then thrown away. Manifests are
// added incrementally as the resolver walks the dependency tree; loading the
// same directory or manifest twice is a no-op, so the resolver can ask for a
// directory whenever it reaches a target without tracking what it already
// loaded. Targets are never mutated after load.
//
// # Manifests
//
// Every target-owning directory holds one manifest, in any of these pure
// data formats:
//
//	RENDER.json / RENDER.yaml / RENDER.yml
//	  {"targets": [{"name": "shot", "src": "shot.blend", "deps": ["//tex:wall"], "assets": ["//hdri/sky.exr"]}]}
//
//	RENDER.hcl
//	  target "shot" {
//	    src    = "shot.blend"
//	    deps   = ["//tex:wall"]
//	    assets = ["//hdri/sky.exr"]
//	  }
//
// Bare names (and bare dependency names) are qualified with the manifest's
// own directory. When two manifests declare the same qualified name, the last
// one wins unless the graph is strict, in which case loading fails with
// ErrDuplicateTarget.
//
// The graph is not safe for concurrent use; it is owned by a single
// resolution pass.
package graph
