// Command cropwatch is the command line interface of the cropwatch
// notification engine: it runs the daemon in the foreground, performs one-off
// polls, inspects and resets tracked state, and manages configuration.
package main
