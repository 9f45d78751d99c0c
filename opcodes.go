package hana

// Op is a single bytecode opcode, per §4.2's opcode set.
type Op uint8

const (
	OpHalt Op = iota

	OpPush8
	OpPush16
	OpPush32
	OpPush64
	OpPushf64
	OpPushBool // reserved, never emitted (§4.2 table marks it reserved)
	OpPushNil
	OpPushStr
	OpPushStrInterned

	OpPop
	OpSwap

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	OpBitwiseAnd
	OpBitwiseOr
	OpBitwiseXor

	OpNegate
	OpNot

	OpLt
	OpLEq
	OpGt
	OpGEq
	OpEq
	OpNEq

	OpOf

	OpEnvNew
	OpSetLocal
	OpSetLocalFunctionDef
	OpGetLocal
	OpGetLocalUp
	OpSetGlobal
	OpGetGlobal
	OpDefFunctionPush

	OpJmp
	OpJmpLong
	OpJCond
	OpJNcond
	OpJCondNoPop
	OpJNcondNoPop
	OpCall
	OpRet
	OpRetCall

	OpDictNew
	OpDictLoad
	OpArrayLoad
	OpMemberGet
	OpMemberGetNoPop
	OpMemberSet
	OpIndexGet
	OpIndexGetNoPop
	OpIndexSet

	OpTry
	OpExframePop
	OpRaise
	OpExframeRet

	OpForIn

	OpUse
)

func (op Op) String() string {
	names := [...]string{
		"halt",
		"push8", "push16", "push32", "push64", "pushf64", "pushbool", "pushnil", "pushstr", "pushstrinterned",
		"pop", "swap",
		"add", "sub", "mul", "div", "mod",
		"bitwise_and", "bitwise_or", "bitwise_xor",
		"negate", "not",
		"lt", "leq", "gt", "geq", "eq", "neq",
		"of",
		"env_new", "set_local", "set_local_function_def", "get_local", "get_local_up",
		"set_global", "get_global", "def_function_push",
		"jmp", "jmp_long", "jcond", "jncond", "jcond_nopop", "jncond_nopop", "call", "ret", "retcall",
		"dict_new", "dict_load", "array_load", "member_get", "member_get_nopop", "member_set",
		"index_get", "index_get_nopop", "index_set",
		"try", "exframe_pop", "raise", "exframe_ret",
		"for_in",
		"use",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}
