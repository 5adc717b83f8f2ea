package gateway

// UnsafeTokensError is returned when a request's argv contains a shell
// control character or is empty.
type UnsafeTokensError struct {
	Reason string
}

func (e *UnsafeTokensError) Error() string {
	return "Error: Shell control operators are not allowed"
}

// CommandNotAllowedError is returned when the canonical subcommand key is
// not a member of the allow-list.
type CommandNotAllowedError struct {
	Key string
}

func (e *CommandNotAllowedError) Error() string {
	return "Error: Command not allowed: " + e.Key
}

// PathEscapeError is returned when a resolved cwd would fall outside the
// workspace root.
type PathEscapeError struct {
	Root string
}

func (e *PathEscapeError) Error() string {
	return "Error: Path must stay inside workspace root: " + e.Root
}
