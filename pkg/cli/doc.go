/*
Package cli provides command-line helpers for the tally command.

Output Formatting:

Command results can be printed as text, JSON or CSV:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Values that implement Table render as aligned columns in text mode and as
rows in CSV mode. CSV output requires a Table.

Exit Codes:

ExitCode maps command errors to process exit codes so scripts can tell a
bad configuration or an exhausted quota apart from other failures.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
