// Package terminal implements the command-line interface (CLI) mode for the askhuman agent.
//
// The terminal reads one line per user turn, runs it through the agent and
// asks for a decision whenever the conversation pauses. Replies are printed as
// they arrive. A failed turn is reported and the loop waits for the next line.
//
// # Usage
//
//	a, err := agent.New(cfg, registry, toolset, mode, llmClient, verbosity)
//	if err != nil {
//	    // handle error
//	}
//
//	term := terminal.New(a, store, "chatbot_1", os.Stdin, os.Stdout)
//	err = term.Run(ctx, initialPrompt)
//
// # Prompts
//
//   - "User: " reads the next message. quit, exit and q end the session.
//   - "Approve? (y/n): " follows a tool call request. Answering n asks for
//     replacement text with "Provide your input: ".
//   - "Assistance? (y/n): " follows an escalation. Answering y asks for the
//     human's answer with "Provide your input: ".
//
// Leaving the input empty skips the decision and the pause stays open until the
// next user message closes it.
//
// # Verbosity Levels
//
//   - None: No tool execution information is displayed
//   - Info: Tool names are displayed when called
//   - All: Tool names, arguments, and results are displayed
package terminal
