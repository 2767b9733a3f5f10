// Package rbtlog fetches and parses reproducible-build verification logs
// published in the IzzyOnDroid rbtlog repository.
//
// A Source returns the raw bytes of one application's log; Parse turns those
// bytes into BuildRecords ordered by version code. Parsing is tolerant: a
// single malformed record is skipped and reported in Log.Skipped, and only a
// log whose overall container shape is wrong yields a *ParseError.
//
// Two shapes are accepted:
//
//	{"appid": "...", "builds": [{"version": "1.2.0", "version_code": 7,
//	  "sha256": "...", "reproducible": true}, ...]}
//
//	{"appid": "...", "sha256": {"<hash>": ["1.2.0"]},
//	 "version_codes": {"1.2.0": 7}, "reproducible": {"1.2.0": false}}
//
// In the second (index) shape every listed version is reproducible unless the
// optional "reproducible" map says otherwise.
package rbtlog
