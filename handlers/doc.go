// Package handlers runs DETECT, SEGMENT and BATCH messages against the model
// server, consulting the process-local and distributed caches first.
//
// The models themselves sit behind the Segmenter and Detector interfaces;
// package inference provides the HTTP implementation.
package handlers
