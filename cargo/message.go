package cargo

import "strings"

// Wire types for cargo's --message-format=json output. Only the fields the
// driver acts on are decoded; everything else is ignored.

type buildMessage struct {
	Reason     string           `json:"reason"`
	PackageID  string           `json:"package_id"`
	Message    *compilerMessage `json:"message"`
	Target     *targetInfo      `json:"target"`
	Profile    *profileInfo     `json:"profile"`
	Executable string           `json:"executable"`
	Fresh      bool             `json:"fresh"`
}

type compilerMessage struct {
	Rendered string `json:"rendered"`
}

type targetInfo struct {
	Name string `json:"name"`
}

type profileInfo struct {
	Test bool `json:"test"`
}

// crateName extracts the crate name from a package id. Cargo formats ids as
// "name version (source)".
func (m *buildMessage) crateName() string {
	name, _, _ := strings.Cut(m.PackageID, " ")
	return name
}
