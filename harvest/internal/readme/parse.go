package readme

// Parse returns the first launch configuration found in text, or nil.
func (p *Parser) Parse(text string) *LaunchConfig {
	if text == "" {
		return nil
	}
	for i, block := range codeBlocks(text) {
		doc, ok := parseObject(block)
		if !ok {
			continue
		}
		if cfg := p.fromDocument(doc); cfg != nil {
			p.logger.Debug("readme: launch config found", "block", i, "name", cfg.Name, "command", cfg.Command)
			return cfg
		}
	}
	return nil
}

// fromDocument picks the first mcpServers entry, in document order, that
// yields a launch config. Without mcpServers the object itself is the entry.
func (p *Parser) fromDocument(doc *document) *LaunchConfig {
	if servers, ok := doc.fields["mcpServers"].(map[string]any); ok {
		for _, name := range doc.keys("mcpServers") {
			if name == "mcpServers" {
				continue
			}
			entry, ok := servers[name].(map[string]any)
			if !ok {
				continue
			}
			if cfg := p.fromEntry(name, entry); cfg != nil {
				return cfg
			}
		}
		return nil
	}
	return p.fromEntry(DefaultName, doc.fields)
}

// fromEntry validates one server entry. Nil when command or args are unusable.
func (p *Parser) fromEntry(name string, entry map[string]any) *LaunchConfig {
	raw, present := entry["command"]
	if !present {
		return nil
	}
	command, ok := raw.(string)
	if !ok || !p.allowed[command] {
		p.logger.Debug("readme: command rejected", "name", name, "command", raw)
		return nil
	}

	list, _ := entry["args"].([]any)
	args := make([]string, 0, len(list))
	for _, a := range list {
		s, ok := a.(string)
		if !ok {
			p.logger.Warn("readme: dropping non-string arg", "name", name, "arg", a)
			continue
		}
		args = append(args, s)
	}
	if len(args) == 0 {
		p.logger.Debug("readme: no usable args", "name", name)
		return nil
	}

	cfg := &LaunchConfig{Name: name, Command: command, Args: args}
	if envObj, ok := entry["env"].(map[string]any); ok {
		env := make(map[string]string, len(envObj))
		for k, v := range envObj {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
		if len(env) > 0 {
			cfg.Env = env
		}
	}
	return cfg
}
