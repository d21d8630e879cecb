package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Guards returning the same value can be merged:
	//   if a { return err }
	//   if b { return err }
	// => if a || b { return err }
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`if $c1 { continue }; if $c2 { continue }`).
		Report(`two consecutive continues; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { continue }`)

	m.Match(`for $*_ { for $*_ { $*_ } }`).
		Report(`nested for-loop; consider extracting inner loop logic or reducing algorithmic complexity`)
}

// errorWrapping keeps the error taxonomy checkable with errors.Is.
func errorWrapping(m dsl.Matcher) {
	m.Match(`fmt.Errorf($f, $*_, $err)`).
		Where(m["err"].Type.Is(`error`) && m["f"].Text.Matches(`%v"$`)).
		Report(`error formatted with %v loses its chain; use %w`)

	m.Match(`$err.Error() == $s`).
		Where(m["err"].Type.Is(`error`)).
		Report(`compare errors with errors.Is instead of their text`)
}

// logging keeps every component on the injected *slog.Logger.
func logging(m dsl.Matcher) {
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`).
		Where(!m.File().PkgPath.Matches(`_test$`)).
		Report(`use the component's *slog.Logger instead of the log package`)

	m.Match(`fmt.Println($*_)`, `fmt.Printf($*_)`).
		Where(!m.File().PkgPath.Matches(`/cmd/`)).
		Report(`stdout belongs to the MCP transport; log through slog instead`)
}

// configuration keeps environment access inside the config and credential layers.
func configuration(m dsl.Matcher) {
	m.Match(`os.Getenv($k)`).
		Where(!m.File().PkgPath.Matches(`/infra/(config|llm)$`)).
		Report(`read $k through config.Load or llm.Credentials`)
}
