package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codearena/environment"
)

func fence(lang, code string) string {
	return "```" + lang + "\n" + code + "\n```"
}

func TestExtractPython(t *testing.T) {
	ctx := context.Background()
	extractor := New(zaptest.NewLogger(t))

	t.Run("NumpyExample", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, "```python\nimport numpy\nprint('hi')\n```", false)
		require.True(t, ok)
		assert.Equal(t, "import numpy\nprint('hi')", res.Code)
		assert.Equal(t, "python", res.Language)
		assert.Equal(t, []string{"numpy"}, res.Dependencies.Python)
		assert.Empty(t, res.Dependencies.NPM)
		assert.Equal(t, environment.PythonInterpreter, res.Environment)
	})

	t.Run("ImportForms", func(t *testing.T) {
		code := strings.Join([]string{
			"import os, sys",
			"import numpy as np",
			"import matplotlib.pyplot as plt",
			"from pandas.core import frame",
			"from . import sibling",
			"from ..pkg import helper",
			"import importlib",
			"mod = importlib.import_module('requests.adapters')",
			"yaml = __import__(\"yaml\")",
			"print(np, plt, frame, mod, yaml)",
		}, "\n")
		res, ok := extractor.Extract(ctx, fence("py", code), false)
		require.True(t, ok)
		assert.Equal(t, []string{"matplotlib", "numpy", "pandas", "requests", "yaml"}, res.Dependencies.Python)
	})

	t.Run("SyntaxErrorYieldsNoDependencies", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("python", "import numpy\ndef broken(:\n"), false)
		require.True(t, ok)
		assert.Empty(t, res.Dependencies.Python)
		assert.Equal(t, environment.PythonInterpreter, res.Environment)
	})

	t.Run("StdlibAndPreinstalledNeverListed", func(t *testing.T) {
		vocabulary := []string{"os", "json", "asyncio", "collections", "pygame", "gradio", "streamlit", "nicegui", "numpy", "scipy"}
		for i := range vocabulary {
			for j := i; j < len(vocabulary); j++ {
				code := "import " + vocabulary[i] + "\nimport " + vocabulary[j]
				res, ok := extractor.Extract(ctx, fence("python", code), false)
				require.True(t, ok)
				for _, dep := range res.Dependencies.Python {
					_, stdlib := pythonStdlib[dep]
					_, preinstalled := preinstalledFrameworks[dep]
					assert.False(t, stdlib || preinstalled, "dependency %q listed for %q", dep, code)
				}
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		message := fence("python", "import requests\nfrom bs4 import BeautifulSoup\nprint(1)")
		first, ok := extractor.Extract(ctx, message, false)
		require.True(t, ok)
		second, ok := extractor.Extract(ctx, message, false)
		require.True(t, ok)
		assert.Equal(t, first, second)
	})
}

func TestClassifyPython(t *testing.T) {
	ctx := context.Background()
	extractor := New(zaptest.NewLogger(t))

	tests := []struct {
		name     string
		code     string
		expected environment.Tag
	}{
		{"GradioAlias", "import gradio as gr\ndemo = gr.Interface(fn=print, inputs='text', outputs='text')", environment.Gradio},
		{"GradioWinsOverImports", "import pygame\nimport streamlit\ngr.Blocks()", environment.Gradio},
		{"StreamlitAlias", "import streamlit as st\nst.title('hello')", environment.Streamlit},
		{"StreamlitImportOnly", "from streamlit import title\ntitle('x')", environment.Streamlit},
		{"PygameBeforeGradio", "import gradio\nimport pygame\nprint(1)", environment.PyGame},
		{"NiceGUI", "from nicegui import ui\nui.label('hi')\nui.run()", environment.NiceGUI},
		{"AttributeIsNotAReference", "import os\nos.gr = 1\nprint(os.st)", environment.PythonInterpreter},
		{"KeywordIsNotAReference", "print('x', gr=1)", environment.PythonInterpreter},
		{"ParameterIsNotAReference", "def f(st, *gr):\n    pass", environment.PythonInterpreter},
		{"DefinitionIsNotAReference", "def gr():\n    pass\n\nclass st:\n    pass", environment.PythonInterpreter},
		{"PlainPython", "x = 1\nprint(x)", environment.PythonInterpreter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := extractor.Extract(ctx, fence("python", tt.code), false)
			require.True(t, ok)
			assert.Equal(t, tt.expected, res.Environment)
		})
	}

	t.Run("FrameworksAreNotDependencies", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("python", "import gradio as gr\nimport pandas\ngr.Blocks()"), false)
		require.True(t, ok)
		assert.Equal(t, []string{"pandas"}, res.Dependencies.Python)
	})
}

func TestExtractJavaScript(t *testing.T) {
	ctx := context.Background()
	extractor := New(zaptest.NewLogger(t))

	t.Run("JSXExample", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, "```jsx\nimport React from 'react';\nfunction App(){return <div/>;}\n```", false)
		require.True(t, ok)
		assert.Equal(t, []string{"react"}, res.Dependencies.NPM)
		assert.Empty(t, res.Dependencies.Python)
		assert.Equal(t, environment.React, res.Environment)
	})

	t.Run("JSXWithoutImports", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("tsx", "export default function Page() {\n  return <main><h1>Hi</h1></main>;\n}"), false)
		require.True(t, ok)
		assert.Empty(t, res.Dependencies.NPM)
		assert.Equal(t, environment.React, res.Environment)
	})

	t.Run("ImportsAndRequire", func(t *testing.T) {
		code := strings.Join([]string{
			"import _ from 'lodash';",
			"import { Button } from '@mui/material/Button';",
			"import local from './local';",
			"import '../styles.css';",
			"const fs = require('node:fs');",
			"const dayjs = require(\"dayjs/plugin/utc\");",
			"console.log(_, Button, local, fs, dayjs);",
		}, "\n")
		res, ok := extractor.Extract(ctx, fence("javascript", code), false)
		require.True(t, ok)
		assert.Equal(t, []string{"@mui/material", "dayjs", "lodash"}, res.Dependencies.NPM)
		assert.Equal(t, environment.JSInterpreter, res.Environment)
	})

	t.Run("TypeScript", func(t *testing.T) {
		code := "import axios from 'axios';\nconst n: number = 1;\nconsole.log(axios, n);"
		res, ok := extractor.Extract(ctx, fence("ts", code), false)
		require.True(t, ok)
		assert.Equal(t, []string{"axios"}, res.Dependencies.NPM)
		assert.Equal(t, environment.JSInterpreter, res.Environment)
	})

	t.Run("VueByImport", func(t *testing.T) {
		code := "import { createApp } from 'vue';\ncreateApp({}).mount('#app');"
		res, ok := extractor.Extract(ctx, fence("js", code), false)
		require.True(t, ok)
		assert.Equal(t, environment.Vue, res.Environment)
	})

	t.Run("ReactByImport", func(t *testing.T) {
		code := "const next = require('next');\nconsole.log(next);"
		res, ok := extractor.Extract(ctx, fence("js", code), false)
		require.True(t, ok)
		assert.Equal(t, environment.React, res.Environment)
	})
}

func TestExtractVueComponent(t *testing.T) {
	ctx := context.Background()
	extractor := New(zaptest.NewLogger(t))

	scriptFirst := `<script setup lang="ts">
import { ref } from 'vue'
import axios from 'axios'

const count = ref<number>(0)
</script>

<template>
  <button @click="count++">Count is: {{ count }}</button>
</template>`

	templateAndStyle := `<template>
  <div class="greeting">
    <h1>{{ message }}</h1>
  </div>
</template>

<style scoped>
.greeting { color: red; }
</style>`

	optionsAPI := `<template>
  <ul>
    <li v-for="item in items" :key="item">{{ item }}</li>
  </ul>
</template>

<script>
import dayjs from 'dayjs'

export default {
  data() {
    return { items: [dayjs().format('YYYY'), 'b'] }
  },
}
</script>`

	tests := []struct {
		name     string
		language string
		code     string
		wantNPM  []string
	}{
		{name: "ScriptSetupFirst", language: "vue", code: scriptFirst, wantNPM: []string{"axios", "vue"}},
		{name: "TemplateWithStyle", language: "vue", code: templateAndStyle},
		{name: "TemplateWithOptionsAPI", language: "vue", code: optionsAPI, wantNPM: []string{"dayjs"}},
		{name: "ScriptSetupInJavaScriptFence", language: "javascript", code: scriptFirst, wantNPM: []string{"axios", "vue"}},
		{name: "TemplateInTypeScriptFence", language: "ts", code: templateAndStyle},
		{name: "Untagged", code: optionsAPI, wantNPM: []string{"dayjs"}},
		{name: "PlainScriptInVueFence", language: "vue", code: "import { createApp } from 'vue'\ncreateApp({}).mount('#app')", wantNPM: []string{"vue"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := extractor.Extract(ctx, fence(tt.language, tt.code), true)
			require.True(t, ok)
			assert.Equal(t, environment.Vue, res.Environment)
			assert.Equal(t, tt.wantNPM, res.Dependencies.NPM)
			assert.Equal(t, tt.language, res.Language)
		})
	}

	t.Run("ReactMarkupIsNotAComponentFile", func(t *testing.T) {
		code := "export default function App() {\n  return (\n    <div>hello</div>\n  );\n}"
		assert.False(t, isSingleFileComponent(code))

		res, ok := extractor.Extract(ctx, fence("jsx", code), true)
		require.True(t, ok)
		assert.Equal(t, environment.React, res.Environment)
	})

	t.Run("HTMLTemplateStaysHTML", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("html", "<template id=\"row\">\n  <tr></tr>\n</template>"), true)
		require.True(t, ok)
		assert.Equal(t, environment.HTML, res.Environment)
	})
}

func TestJSImportStrategies(t *testing.T) {
	ctx := context.Background()

	t.Run("RegexFallback", func(t *testing.T) {
		code := "import chalk from 'chalk';\nconst x = require('@scope/pkg/deep');\nconst = = broken ((("
		src := parseJS(ctx, code)
		assert.False(t, src.tsxClean)
		assert.Equal(t, []string{"@scope/pkg", "chalk"}, src.imports(ctx))
	})

	t.Run("TemplateElementIsVue", func(t *testing.T) {
		src := parseJS(ctx, "<template><div>hello</div></template>")
		assert.Equal(t, environment.Vue, src.templateSyntax())
	})

	t.Run("PlainCodeHasNoTemplateSyntax", func(t *testing.T) {
		src := parseJS(ctx, "const a = 1 < 2;\nconsole.log(a);")
		assert.Equal(t, environment.None, src.templateSyntax())
	})
}

func TestPackageName(t *testing.T) {
	tests := []struct {
		specifier string
		expected  string
		ok        bool
	}{
		{"react", "react", true},
		{"react-dom/client", "react-dom", true},
		{"@vue", "@vue", true},
		{"@mui/material/Button", "@mui/material", true},
		{"./utils", "", false},
		{"../a/b", "", false},
		{"/abs/path", "", false},
		{"node:path", "", false},
		{"https://cdn.example.com/lib.js", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.specifier, func(t *testing.T) {
			name, ok := packageName(tt.specifier)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, name)
		})
	}
}

func TestExtractHTMLAndOthers(t *testing.T) {
	ctx := context.Background()
	extractor := New(zaptest.NewLogger(t))

	t.Run("HTMLTag", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("html", "<div>hi</div>"), true)
		require.True(t, ok)
		assert.Equal(t, environment.HTML, res.Environment)
	})

	t.Run("HTMLSniffing", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("", "<!DOCTYPE html>\n<html><body>hi</body></html>"), true)
		require.True(t, ok)
		assert.Equal(t, environment.HTML, res.Environment)
		assert.Empty(t, res.Language)
	})

	t.Run("UnknownLanguageOutsideAutoMode", func(t *testing.T) {
		res, ok := extractor.Extract(ctx, fence("go", "package main"), false)
		require.True(t, ok)
		assert.Equal(t, environment.None, res.Environment)
		assert.Equal(t, "package main", res.Code)
	})

	t.Run("UnknownLanguageInAutoMode", func(t *testing.T) {
		_, ok := extractor.Extract(ctx, fence("go", "package main"), true)
		assert.False(t, ok)
	})

	t.Run("NoCode", func(t *testing.T) {
		_, ok := extractor.Extract(ctx, "I cannot help with that.", false)
		assert.False(t, ok)
	})
}

func TestDependenciesEqual(t *testing.T) {
	assert.True(t, Dependencies{}.Equal(Dependencies{Python: []string{}, NPM: nil}))
	assert.True(t, Dependencies{Python: []string{"a"}}.Equal(Dependencies{Python: []string{"a"}}))
	assert.False(t, Dependencies{Python: []string{"a"}}.Equal(Dependencies{NPM: []string{"a"}}))
	assert.True(t, Dependencies{}.Empty())
	assert.False(t, Dependencies{NPM: []string{"react"}}.Empty())
}
