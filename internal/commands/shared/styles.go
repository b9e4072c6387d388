// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"github.com/charmbracelet/lipgloss"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
	SymbolInfo  = "•"
)

// Printer renders status lines, dropping color when the output is not a
// terminal.
type Printer struct {
	color bool
}

// NewPrinter creates a Printer. Pass ColorEnabled(out) for color.
func NewPrinter(color bool) Printer {
	return Printer{color: color}
}

func (p Printer) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// OK renders a success message with a green checkmark
func (p Printer) OK(msg string) string {
	return p.render(StatusOK, SymbolOK) + " " + msg
}

// Warn renders a warning message with an orange symbol
func (p Printer) Warn(msg string) string {
	return p.render(StatusWarn, SymbolWarn) + " " + msg
}

// Error renders an error message with a red X
func (p Printer) Error(msg string) string {
	return p.render(StatusError, SymbolError) + " " + msg
}

// Info renders a neutral message
func (p Printer) Info(msg string) string {
	return p.render(Muted, SymbolInfo) + " " + msg
}

// Label renders a dim label (for key: value pairs)
func (p Printer) Label(label string) string {
	return p.render(Muted, label)
}

// Header renders a section header
func (p Printer) Header(title string) string {
	return p.render(Header, title)
}

// HolderState renders a lock holder's state: live holders in orange, stale
// ones in red.
func (p Printer) HolderState(alive bool) string {
	if alive {
		return p.render(StatusWarn, "held")
	}
	return p.render(StatusError, "stale")
}
