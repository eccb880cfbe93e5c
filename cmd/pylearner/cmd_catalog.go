package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/pylearner/internal/catalog"
)

func cmdTopics() error {
	reg, err := catalog.Default()
	if err != nil {
		return err
	}
	printTopics(os.Stdout, reg)
	return nil
}

func printTopics(w io.Writer, reg *catalog.Registry) {
	fmt.Fprintln(w, "Topics:")
	for _, t := range reg.Topics() {
		fmt.Fprintf(w, "  %-28s %s (%d exercises)\n", t.ID, t.Name, len(t.Exercises))
	}
	fmt.Fprintln(w, "\nUse 'pylearner exercises <topic>' to list a topic's exercises")
}

func cmdExercises(args []string) error {
	if len(args) < 1 {
		return errors.New("topic ID required (see 'pylearner topics')")
	}
	reg, err := catalog.Default()
	if err != nil {
		return err
	}
	return printExercises(os.Stdout, reg, args[0])
}

func printExercises(w io.Writer, reg *catalog.Registry, topicID string) error {
	topic, err := reg.Topic(topicID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n%s\n\n", topic.Name, topic.Description)
	for _, ex := range topic.Exercises {
		fmt.Fprintf(w, "  %-8s %-36s %-12s %d XP\n", ex.ID, ex.Title, ex.Difficulty, ex.XPReward)
	}
	return nil
}

func cmdExercise(args []string) error {
	if len(args) < 1 {
		return errors.New("exercise ID required (e.g., dt-1)")
	}
	reg, err := catalog.Default()
	if err != nil {
		return err
	}
	return printExercise(os.Stdout, reg, args[0])
}

func printExercise(w io.Writer, reg *catalog.Registry, id string) error {
	ex, err := reg.Exercise(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Exercise: %s\n\n", ex.Title)
	fmt.Fprintf(w, "ID:         %s\n", ex.ID)
	fmt.Fprintf(w, "Topic:      %s\n", ex.TopicID)
	fmt.Fprintf(w, "Difficulty: %s\n", ex.Difficulty)
	fmt.Fprintf(w, "Reward:     %d XP\n", ex.XPReward)
	fmt.Fprintf(w, "\n%s\n", ex.Description)
	if ex.Hint != "" {
		fmt.Fprintf(w, "\nHint: %s\n", ex.Hint)
	}
	fmt.Fprintf(w, "\nStarting code:\n%s\n", indent(strings.TrimRight(ex.StartingCode, "\n"), "    "))
	if next, err := reg.NextExercise(id); err == nil && next != nil {
		fmt.Fprintf(w, "\nNext: %s\n", next.ID)
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
