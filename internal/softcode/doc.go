// Package softcode is a small command interpreter that runs queued command
// text against the queue. It understands the queue's own administrative
// commands (@wait, @notify, @drain, @halt, @ps and friends) plus think and
// @setq, which is enough to script and exercise the queue from a console.
//
// A command line is split on ';' outside braces. Each piece gets %-substitutions
// (%0-%9 arguments, %q0-%q9 registers, %# cause, %! executor, %% literal)
// outside braces, then dispatches on its first word. Braced text is passed
// through verbatim, so a @wait body is substituted when it runs.
package softcode
