// Package tags builds the canonical series name used to identify a profile
// stream to the ingestion service.
//
// A series name is the application name followed by its tags in braces:
//
//	tags.Merge("svc", map[string]string{"env": "prod", "region": "eu"})
//	// -> "svc{env=prod,region=eu}"
//
// Tags are sorted so the name is stable regardless of map iteration order,
// and the reserved [ReservedName] key is always dropped.
package tags
