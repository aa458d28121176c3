// taskflow inspects workflow documents.
//
// Usage:
//
//	taskflow validate <workflow.json>   # structural + DAG validation
//	taskflow describe <workflow.json>   # print nodes, dependencies, tools
//	taskflow schema                     # print the document JSON schema
//	taskflow version
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/taskflow/parser"
	"github.com/BaSui01/taskflow/workflow"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		runValidate(os.Args[2:])
	case "describe":
		runDescribe(os.Args[2:])
	case "schema":
		runSchema()
	case "version":
		fmt.Printf("taskflow %s (built %s)\n", Version, BuildTime)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskflow validate <workflow.json|yaml>")
		os.Exit(1)
	}

	wf, err := parser.New(nil).ParseFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	if !workflow.NewEngine(wf).Validate() {
		fmt.Fprintln(os.Stderr, "invalid: dependency graph contains a cycle")
		os.Exit(1)
	}
	fmt.Printf("ok: %s (%d nodes)\n", wf.ID, len(wf.Nodes))
}

func runDescribe(args []string) {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskflow describe <workflow.json|yaml>")
		os.Exit(1)
	}

	wf, err := parser.New(nil).ParseFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Workflow: %s (%s)\n", wf.Name, wf.ID)
	if wf.Description != "" {
		fmt.Printf("  %s\n", wf.Description)
	}
	for _, node := range wf.Nodes {
		fmt.Printf("\nNode %s\n", node.ID)
		if len(node.Dependencies) > 0 {
			fmt.Printf("  depends on: %v\n", node.Dependencies)
		}
		fmt.Printf("  output: %s\n", node.Output.Name)
		fmt.Printf("  action: %s", node.Action.Type())
		if tools := node.Action.Tools(); len(tools) > 0 {
			fmt.Print(" [")
			for i, t := range tools {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Print(t.Name())
			}
			fmt.Print("]")
		}
		fmt.Println()
	}

	terminals := wf.TerminalNodes()
	fmt.Print("\nTerminal nodes: ")
	for i, n := range terminals {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Print(n.ID)
	}
	fmt.Println()
}

func runSchema() {
	os.Stdout.Write(parser.DocumentSchema(nil))
	fmt.Println()
}

func printUsage() {
	fmt.Println(`taskflow - workflow document tooling

Commands:
  validate <file>   Validate a workflow document (structure and DAG)
  describe <file>   Print a workflow's nodes, dependencies, and tools
  schema            Print the workflow document JSON schema
  version           Print version information`)
}
