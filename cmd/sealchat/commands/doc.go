// Package commands defines the sealchat CLI.
//
// Commands
//
//   - init          Create the device: keystore, device id and account
//   - keys          Print and optionally publish one-time keys
//   - encrypt       Encrypt a message for a conversation
//   - decrypt       Decrypt a payload
//   - import-share  Import a group session key shared by another device
//   - status        Show the device and its key state
//
// # Implementation
//
// The root command loads <home>/sealchat.conf and applies flag overrides
// before any subcommand runs. Subcommands other than init unlock the
// keystore with the passphrase and use the wired app.App.
package commands
