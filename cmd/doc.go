// Package cmd holds the CLI commands of the gmailmcp binary.
package cmd
