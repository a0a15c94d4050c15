// Package idgen 基于 snowflake 的分布式 ID 生成
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator 带前缀的 ID 生成器，并发安全
type Generator struct {
	node *snowflake.Node
}

// New 创建生成器，nodeID 取值 [0, 1023]
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Next 生成 base58 编码的 ID
func (g *Generator) Next() string {
	return g.node.Generate().Base58()
}

// NextWithPrefix 生成带业务前缀的 ID，例如 "slot-xxxx"
func (g *Generator) NextWithPrefix(prefix string) string {
	return prefix + "-" + g.Next()
}
