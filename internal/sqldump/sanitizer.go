package sqldump

import (
	"bufio"
	"io"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// OptionsToRemove is the list of option names stripped from a dump when
// sanitization is requested: license keys and license transients that must
// not travel with an exported package.
var OptionsToRemove = []string{
	"license_number",
	"_elementor_pro_license_data",
	"_elementor_pro_license_data_fallback",
	"_elementor_pro_license_v2_data_fallback",
	"_elementor_pro_license_v2_data",
	"_transient_timeout_rg_gforms_license",
	"_transient_rg_gforms_license",
	"_transient_timeout_uael_license_status",
	"_transient_timeout_astra-addon_license_status",
	"astra-addon_license_key",
	"astra_addon_license_key",
	"edd_fs_lock_atomic_wp_rocket",
	"wp_rocket_settings",
}

// Sanitizer removes sensitive option rows from a SQL dump.
type Sanitizer struct {
	optionsToRemove map[string]struct{}
}

func NewSanitizer() *Sanitizer {
	optionsMap := make(map[string]struct{})
	for _, opt := range OptionsToRemove {
		optionsMap[opt] = struct{}{}
	}
	return &Sanitizer{optionsToRemove: optionsMap}
}

// Sanitize streams a SQL dump from reader to writer, dropping INSERT
// statements into options tables whose option_name is on the removal
// list. Statements the parser does not understand pass through verbatim.
func (s *Sanitizer) Sanitize(reader io.Reader, writer io.Writer) error {
	bufferedReader := bufio.NewReader(reader)
	sql := ""

	for {
		line, err := bufferedReader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}

		sql += line

		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			stmt, parseErr := sqlparser.Parse(sql)
			if parseErr != nil {
				// Could be a fragment of a larger statement or syntax the
				// parser does not cover. Pass it through.
				if _, writeErr := writer.Write([]byte(sql)); writeErr != nil {
					return writeErr
				}
				sql = ""
				if err == io.EOF {
					break
				}
				continue
			}

			if s.keep(stmt) {
				if _, err := writer.Write([]byte(sql)); err != nil {
					return err
				}
			}

			sql = ""
		}

		if err == io.EOF {
			break
		}
	}

	if sql != "" {
		if _, err := writer.Write([]byte(sql)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Sanitizer) keep(stmt sqlparser.Statement) bool {
	insert, ok := stmt.(*sqlparser.Insert)
	if !ok {
		return true
	}
	if !strings.Contains(insert.Table.Name.String(), "options") {
		return true
	}

	rows, ok := insert.Rows.(sqlparser.Values)
	if !ok {
		return true
	}

	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		// option_name is the second value in the tuple.
		optionNameVal, ok := row[1].(*sqlparser.SQLVal)
		if !ok {
			continue
		}
		if _, exists := s.optionsToRemove[string(optionNameVal.Val)]; exists {
			return false
		}
	}

	return true
}
