// Package report renders fixture update runs and the fixture history.
//
// Three formats are provided: plain text for the terminal (SimpleWriter),
// JSON for scripts (JSONWriter) and Markdown for pull request descriptions
// (MarkdownWriter, built on github.com/nao1215/markdown).
package report
