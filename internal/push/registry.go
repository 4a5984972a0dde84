package push

import (
	"fmt"
	"regexp"
	"sort"
)

// Channel 推送通道插件契约
// 配置是通道自定义的 JSON 对象,核心只负责透传
type Channel interface {
	// Push 向外部端点投递一条消息
	Push(configJSON string, context PushContext) PushResult
	// Describe 返回通道的一句话说明(文档/CLI 用途)
	Describe() string
	// ValidateConfigExample 返回一份合法配置示例(文档/CLI 用途)
	ValidateConfigExample() string
}

// Factory 通道实例工厂
type Factory func() Channel

var channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Registry 通道注册表:名称/别名 → 工厂
// 注册在进程启动阶段一次性完成(显式调用,与顺序无关);
// 同名重复注册是错误而不是静默覆盖
type Registry struct {
	factories map[string]Factory
	canonical map[string]string // 别名 → 正式名称
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		canonical: make(map[string]string),
	}
}

// Register 注册一个通道实现及其别名
func (r *Registry) Register(name string, factory Factory, aliases ...string) error {
	if err := validateChannelName(name); err != nil {
		return err
	}
	if _, exists := r.canonical[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}

	for _, alias := range aliases {
		if err := validateChannelName(alias); err != nil {
			return err
		}
		if _, exists := r.canonical[alias]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateChannel, alias)
		}
	}

	r.factories[name] = factory
	r.canonical[name] = name
	for _, alias := range aliases {
		r.canonical[alias] = name
	}

	return nil
}

// Resolve 按名称或别名查找工厂,未注册时返回 nil
func (r *Registry) Resolve(nameOrAlias string) Factory {
	canonical, ok := r.canonical[nameOrAlias]
	if !ok {
		return nil
	}
	return r.factories[canonical]
}

// Create 按名称或别名创建通道实例,未注册时返回 nil
func (r *Registry) Create(nameOrAlias string) Channel {
	factory := r.Resolve(nameOrAlias)
	if factory == nil {
		return nil
	}
	return factory()
}

// Names 返回全部正式名称(升序,供文档接口遍历)
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateChannelName 校验通道名称:非空且仅含 [A-Za-z0-9_-]
func validateChannelName(name string) error {
	if name == "" {
		return ErrEmptyChannelName
	}
	if !channelNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidChannelName, name)
	}
	return nil
}
