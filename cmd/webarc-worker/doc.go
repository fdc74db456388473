// Command webarc-worker runs the capture worker.
//
// The worker accepts capture requests over HTTP, runs the named extractor
// executable against the URL in the background, stores stdout as the capture
// payload under storage.blob_dir, and answers progress, confirm, and output
// queries by ticket.
//
// Configuration is read from the file given by --config, or from
// $WEBARC_WORKER_CONFIG when the flag is absent. Every key can be overridden
// with a WEBARC_ environment variable, for example WEBARC_SERVER_PORT.
//
//	webarc-worker serve --config worker.yaml
//	webarc-worker version
package main
