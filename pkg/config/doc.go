// Package config provides tcpmsg configuration: defaults, YAML files and
// validation.
//
// A missing file is not an error; Load returns Default(). Values present in
// the file override the defaults field by field. Durations are written the
// way time.ParseDuration reads them ("30s", "1500ms").
package config
