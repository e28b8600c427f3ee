// Command pixelhawk polls a configured region of the WPlace canvas on
// behalf of every tracked project and records their completion progress.
package main

import (
	"github.com/Liz4v/pixel-hawk-sub000/internal/cmd"
)

func main() {
	cmd.Execute()
}
