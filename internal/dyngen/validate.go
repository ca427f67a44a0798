package dyngen

import (
	"fmt"

	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/vm"
)

// validateScript performs a throwaway zero-channel compile before any
// registry or unit state changes, so a bad script never gets as far as
// touching a live unit. Grounded on DynGenScript::tryCompile in
// library.cpp, which the original runs immediately after parse() and
// before building the parameter list.
//
// This lives in package dyngen rather than as a ScriptRecord method to
// avoid a domain->vm import cycle; domain stays a leaf package.
func validateScript(rec *domain.ScriptRecord, factory vm.Factory) error {
	throwaway, err := factory.Compile(rec, 0, rec.Params)
	if err != nil {
		return fmt.Errorf("dyngen: script failed validation compile: %w", err)
	}
	throwaway.Close()
	return nil
}
