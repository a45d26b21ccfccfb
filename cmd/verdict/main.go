// Package main implements the verdict command line interface.
//
// verdict evaluates JSON decision tables against fact documents, validates
// table definitions, runs their embedded test suites, and inspects the
// evaluation audit log. Table files are plain JSON on disk; evaluation
// history and test run records persist to a local libSQL database.
//
// Configuration is layered: built-in defaults, then ~/.verdict/settings.json,
// then VERDICT_* environment variables. See config.go for the full set of
// keys.
package main

func main() {
	Execute()
}
