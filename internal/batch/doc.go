// Package batch holds the scheduled job bodies and the machinery that runs them.
//
// The daily export renders one local day of reports to a PDF, uploads it and
// stamps the archive reference on exactly the rendered reports. The weekly
// cleanup removes local files belonging to reports that are already archived.
// Both bodies are plain methods that the CLI can call directly; the Runner adds
// the per-job overlap guard, panic recovery, logging and run history.
package batch
